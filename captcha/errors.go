package captcha

import "errors"

// ErrRendering matches every [*RenderingError] through errors.Is.
var ErrRendering = errors.New("captcha rendering failed")

// RenderingError reports that image synthesis failed. Nothing is stored
// when it is returned.
type RenderingError struct {
	Err error
}

func (e *RenderingError) Error() string {
	if e.Err == nil {
		return ErrRendering.Error()
	}
	return ErrRendering.Error() + ": " + e.Err.Error()
}

func (e *RenderingError) Unwrap() error {
	return e.Err
}

// Is reports whether target is [ErrRendering].
func (e *RenderingError) Is(target error) bool {
	return target == ErrRendering
}
