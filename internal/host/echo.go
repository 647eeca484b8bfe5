// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Passy Contributors

package host

import (
	"context"
	"encoding/json"
)

// EchoPlugin is the id of the built-in smoke-test plugin.
const EchoPlugin = "echo"

// RegisterEcho adds the built-in echo plugin:
//
//	echo.echo    returns its data unchanged
//	echo.fail    fails with the data string as message
//	echo.states  returns the resolved states as an object
func RegisterEcho(r *Router) error {
	if err := r.HandleFunc(EchoPlugin+".echo", echo); err != nil {
		return err
	}
	if err := r.HandleFunc(EchoPlugin+".fail", fail); err != nil {
		return err
	}
	return r.HandleFunc(EchoPlugin+".states", states)
}

func echo(_ context.Context, req Request) (string, error) {
	return string(req.Data), nil
}

func fail(_ context.Context, req Request) (string, error) {
	msg := "echo failure"
	var s string
	if err := json.Unmarshal(req.Data, &s); err == nil && s != "" {
		msg = s
	}
	return ErrorPrefix + msg, nil
}

func states(_ context.Context, req Request) (string, error) {
	out := make(map[string]string, len(req.States))
	for k, v := range req.States {
		out[string(k)] = v
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err //nolint:wrapcheck // marshal of map[string]string cannot fail
	}
	return string(b), nil
}
