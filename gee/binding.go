package gee

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// MaxJSONBody JSON 请求体的上限；上传走 multipart，不受这里限制
const MaxJSONBody = 64 << 10

var ErrEmptyBody = errors.New("empty body")

// ShouldBindJSON 严格解析：不认识的字段、多个 JSON 值、超过 MaxJSONBody 都算错误
func (c *Context) ShouldBindJSON(dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(c.Writer, c.Req.Body, MaxJSONBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrEmptyBody
		}
		return err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("body must contain only one JSON value")
	}
	return nil
}

// BindJSON 解析失败时直接写 400（过大为 413）并中止
func (c *Context) BindJSON(dst any) error {
	err := c.ShouldBindJSON(dst)
	if err == nil {
		return nil
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.AbortWithError(http.StatusRequestEntityTooLarge, fmt.Sprintf("json body exceeds %d bytes", MaxJSONBody))
		return err
	}
	c.AbortWithError(http.StatusBadRequest, "invalid json body")
	return err
}
