package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// APIError はAPIが返したエラー応答を表す。
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	return fmt.Sprintf("api error: status %d: %s: %s", e.Status, e.Code, e.Message)
}

// StatusOf はエラーがAPIErrorの場合にそのステータスコードを返す。それ以外は0を返す。
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// decodeAPIError はエラー応答のボディからAPIErrorを組み立てる。
// ボディがJSONでない場合もステータスコードは保持する。
func decodeAPIError(res *http.Response) *APIError {
	apiErr := &APIError{Status: res.StatusCode}

	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	data, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err == nil && json.Unmarshal(data, &body) == nil {
		apiErr.Code = body.Code
		apiErr.Message = body.Message
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(res.StatusCode)
	}
	return apiErr
}
