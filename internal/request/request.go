/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package request

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxBodySize caps how much of a response body is read.
const maxBodySize = 1 << 20

// StatusError is returned when the remote answers with a non-2xx status. Body holds the raw response.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, string(e.Body))
}

// DecodeError is returned when a 2xx body cannot be decoded into the target.
type DecodeError struct {
	Body []byte
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode response body: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ToJsonReq serializes payload into a request body buffer.
func ToJsonReq(payload interface{}) (*bytes.Buffer, error) {
	c, e := json.Marshal(payload)
	if e != nil {
		return nil, e
	}
	return bytes.NewBuffer(c), nil
}

// Call sends a JSON request with client and decodes a 2xx body into response when response is non-nil.
// Transport failures are returned as-is, non-2xx answers as *StatusError and undecodable bodies as *DecodeError.
func Call(client *http.Client, req *http.Request, response interface{}) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return resp, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, &StatusError{StatusCode: resp.StatusCode, Body: body}
	}

	if response == nil {
		return resp, nil
	}
	if err := json.Unmarshal(body, response); err != nil {
		return resp, &DecodeError{Body: body, Err: err}
	}
	return resp, nil
}

// BasicAuth encodes "username:password" for an Authorization: Basic header.
func BasicAuth(username, password string) string {
	auth := username + ":" + password
	return base64.StdEncoding.EncodeToString([]byte(auth))
}
