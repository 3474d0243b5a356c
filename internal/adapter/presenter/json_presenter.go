package presenter

import (
	"encoding/json"
	"io"

	"github.com/YoshitsuguKoike/deeflow/internal/application/port/output"
)

// JSONPresenter writes one JSON document per call, for scripts and pipelines
type JSONPresenter struct {
	enc *json.Encoder
}

// NewJSONPresenter creates a new JSON presenter
func NewJSONPresenter(output io.Writer) output.Presenter {
	enc := json.NewEncoder(output)
	enc.SetEscapeHTML(false)
	return &JSONPresenter{enc: enc}
}

// PresentSuccess presents a successful result as JSON
func (p *JSONPresenter) PresentSuccess(message string, data interface{}) error {
	return p.enc.Encode(map[string]interface{}{
		"success": true,
		"message": message,
		"data":    data,
	})
}

// PresentError presents an error as JSON. The error is returned so callers
// can still exit non-zero.
func (p *JSONPresenter) PresentError(err error) error {
	if encErr := p.enc.Encode(map[string]interface{}{
		"success": false,
		"error":   err.Error(),
	}); encErr != nil {
		return encErr
	}
	return err
}

// PresentProgress presents progress information as JSON
func (p *JSONPresenter) PresentProgress(message string, progress int, total int) error {
	return p.enc.Encode(map[string]interface{}{
		"type":     "progress",
		"message":  message,
		"progress": progress,
		"total":    total,
		"percent":  percent(progress, total),
	})
}

// PresentTransition presents one hop as JSON
func (p *JSONPresenter) PresentTransition(view output.TransitionView) error {
	return p.enc.Encode(map[string]interface{}{
		"type":       "transition",
		"transition": view,
	})
}

// NewPresenter picks the presenter for an output format ("json" or text)
func NewPresenter(format string, w io.Writer) output.Presenter {
	if format == "json" {
		return NewJSONPresenter(w)
	}
	return NewCLIPresenter(w)
}
