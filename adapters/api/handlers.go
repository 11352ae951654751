package api

import (
	"net/http"
	"strconv"
	"time"

	"patchcert/adapters/bounds"
	"patchcert/app"
	"patchcert/domain/core"
	"patchcert/domain/grid"
	"patchcert/domain/verdict"
	"patchcert/internal/errors"
	"patchcert/internal/window"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"model":  s.defaults.Params.Model,
		"window": s.defaults.Window.String(),
	})
}

func (s *Server) handleCertify(c *gin.Context) {
	var req CertifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, "", errors.InvalidInput(err.Error()))
		return
	}
	service, evidence, err := s.prepare(&req.DefenseRequest)
	if err != nil {
		s.fail(c, req.Model, err)
		return
	}

	start := time.Now()
	outcome, err := service.Certify(evidence, *req.Label)
	if err != nil {
		s.fail(c, service.Model(), err)
		return
	}
	s.metrics.ObserveVerdict(service.Model(), outcome.Verdict.Status, time.Since(start))

	c.JSON(http.StatusOK, CertifyResponse{
		Verdict:   outcome.Verdict,
		Predicted: outcome.Predicted,
		Certified: outcome.Verdict.Status == verdict.StatusCertifiedRobust,
	})
}

func (s *Server) handlePredict(c *gin.Context) {
	var req DefenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, "", errors.InvalidInput(err.Error()))
		return
	}
	service, evidence, err := s.prepare(&req)
	if err != nil {
		s.fail(c, req.Model, err)
		return
	}

	start := time.Now()
	predicted, table, err := service.Predict(evidence)
	if err != nil {
		s.fail(c, service.Model(), err)
		return
	}
	s.metrics.ObserveLatency(service.Model(), time.Since(start))

	c.JSON(http.StatusOK, PredictResponse{
		Predicted: predicted,
		Clean:     app.CleanPrediction(table),
		Bounds:    table,
	})
}

func (s *Server) handleWindow(c *gin.Context) {
	var req WindowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, "", errors.InvalidInput(err.Error()))
		return
	}
	cells, err := window.CellsForPatch(req.PatchSize, req.ReceptiveField, req.Stride)
	if err != nil {
		s.fail(c, "", err)
		return
	}
	c.JSON(http.StatusOK, WindowResponse{Cells: cells, Window: grid.Square(cells)})
}

func (s *Server) handleListRuns(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.fail(c, "", errors.InvalidInput("limit must be an integer"))
			return
		}
		limit = n
	}
	runs, err := s.repo.ListRuns(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, "", err)
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (s *Server) handleGetRun(c *gin.Context) {
	id, err := core.ParseRunID(c.Param("id"))
	if err != nil {
		s.fail(c, "", errors.InvalidInput(err.Error()))
		return
	}
	run, err := s.repo.GetRun(c.Request.Context(), id)
	if err != nil {
		s.fail(c, "", err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleListResults(c *gin.Context) {
	id, err := core.ParseRunID(c.Param("id"))
	if err != nil {
		s.fail(c, "", errors.InvalidInput(err.Error()))
		return
	}
	status := verdict.Status(c.Query("status"))
	switch status {
	case "", verdict.StatusIncorrect, verdict.StatusVulnerable, verdict.StatusCertifiedRobust:
	default:
		s.fail(c, "", errors.InvalidInput("unknown status "+string(status)))
		return
	}
	if _, err := s.repo.GetRun(c.Request.Context(), id); err != nil {
		s.fail(c, "", err)
		return
	}
	results, err := s.repo.ListResults(c.Request.Context(), id, status)
	if err != nil {
		s.fail(c, "", err)
		return
	}
	c.JSON(http.StatusOK, results)
}

// prepare resolves request overrides against the defaults and builds the
// evidence grid.
func (s *Server) prepare(req *DefenseRequest) (*app.DefenseService, *grid.Evidence, error) {
	params := s.defaults.Params
	if req.Model != "" {
		params.Model = req.Model
	}
	if req.Threshold != nil {
		params.Threshold = *req.Threshold
	}
	if req.ClipBound != nil {
		params.ClipBound = *req.ClipBound
	}
	shape := s.defaults.Window
	if req.Window != nil {
		shape = *req.Window
	}

	provider, err := bounds.NewProvider(params)
	if err != nil {
		return nil, nil, err
	}
	evidence, err := grid.FromCells(req.Grid)
	if err != nil {
		return nil, nil, err
	}
	return app.NewDefenseService(provider, shape), evidence, nil
}

func (s *Server) fail(c *gin.Context, model verdict.AdversaryModel, err error) {
	if model == "" {
		model = s.defaults.Params.Model
	}
	code := errors.GetCode(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("%s %s: %v", c.Request.Method, c.FullPath(), err)
	} else {
		s.logger.Debug("%s %s rejected: %v", c.Request.Method, c.FullPath(), err)
	}
	s.metrics.ObserveFailure(model, code)
	c.AbortWithStatusJSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func statusFor(code string) int {
	switch code {
	case errors.CodeConfigInvalid, errors.CodeNumericError, errors.CodeInvalidInput:
		return http.StatusBadRequest
	case errors.CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
