package webapi

import (
	"fmt"

	"github.com/evanw/esbuild/pkg/api"
)

// TransformModule converts an ES module worker script into a classic
// script the engines can evaluate. Imports are not resolved; a module
// worker must be self-contained.
func TransformModule(source, url string) (string, error) {
	result := api.Transform(source, api.TransformOptions{
		Format:     api.FormatIIFE,
		Target:     api.ESNext,
		Sourcefile: url,
	})
	if len(result.Errors) > 0 {
		msg := result.Errors[0]
		if msg.Location != nil {
			return "", fmt.Errorf("transforming module %s:%d:%d: %s", url, msg.Location.Line, msg.Location.Column, msg.Text)
		}
		return "", fmt.Errorf("transforming module %s: %s", url, msg.Text)
	}
	return string(result.Code), nil
}
