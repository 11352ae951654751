package api

import (
	"patchcert/domain/grid"
	"patchcert/domain/verdict"
)

// DefenseRequest carries an evidence grid plus optional overrides of the
// server's default defense settings.
type DefenseRequest struct {
	Grid      [][][]float64          `json:"grid" binding:"required"`
	Model     verdict.AdversaryModel `json:"model,omitempty"`
	Window    *grid.WindowShape      `json:"window,omitempty"`
	Threshold *float64               `json:"threshold,omitempty"`
	ClipBound *float64               `json:"clip_bound,omitempty"`
}

// CertifyRequest is a DefenseRequest with the label to certify.
type CertifyRequest struct {
	DefenseRequest
	Label *int `json:"label" binding:"required"`
}

// CertifyResponse reports the verdict and the robust prediction.
type CertifyResponse struct {
	Verdict   verdict.Verdict `json:"verdict"`
	Predicted int             `json:"predicted"`
	Certified bool            `json:"certified"`
}

// PredictResponse reports the robust prediction and the bounds behind it.
type PredictResponse struct {
	Predicted int                 `json:"predicted"`
	Clean     int                 `json:"clean_prediction"`
	Bounds    *verdict.BoundTable `json:"bounds"`
}

// WindowRequest asks for the window size covering a patch.
type WindowRequest struct {
	PatchSize      int `json:"patch_size" binding:"required"`
	ReceptiveField int `json:"receptive_field" binding:"required"`
	Stride         int `json:"stride" binding:"required"`
}

// WindowResponse is the side length of the square window, in cells.
type WindowResponse struct {
	Cells  int              `json:"cells"`
	Window grid.WindowShape `json:"window"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
