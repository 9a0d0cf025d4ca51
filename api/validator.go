package api

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/gin-gonic/gin"

	"pedigree/apperror"
)

//go:embed openapi.yaml
var openAPIDocument []byte

// RequestValidator 依 openapi.yaml 檢查請求的參數與 body
type RequestValidator struct {
	router routers.Router
}

// LoadAPIDocument 載入並檢查內嵌的 API 文件
func LoadAPIDocument(ctx context.Context) (*openapi3.T, error) {
	const op = "LoadAPIDocument"
	doc, err := openapi3.NewLoader().LoadFromData(openAPIDocument)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to load api document, err=%w", op, err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("[%s] Invalid api document, err=%w", op, err)
	}
	return doc, nil
}

func NewRequestValidator(doc *openapi3.T) (*RequestValidator, error) {
	const op = "NewRequestValidator"
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to build router, err=%w", op, err)
	}
	return &RequestValidator{router: router}, nil
}

// Validate 檢查請求，文件中沒有的路徑不檢查。
// 身分驗證由 authenticate 處理，這裡只看格式。
func (v *RequestValidator) Validate(r *http.Request) error {
	route, pathParams, err := v.router.FindRoute(r)
	if err != nil {
		return nil
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(r.Body)
		if err != nil {
			return apperror.Invalid("unreadable request body")
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}
	// handler 還要讀一次 body
	defer func() {
		if body != nil {
			r.Body = io.NopCloser(bytes.NewReader(body))
		}
	}()

	err = openapi3filter.ValidateRequest(r.Context(), &openapi3filter.RequestValidationInput{
		Request:    r,
		PathParams: pathParams,
		Route:      route,
		Options: &openapi3filter.Options{
			AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
		},
	})
	if err == nil {
		return nil
	}
	return schemaMismatch(err)
}

func schemaMismatch(err error) *apperror.Error {
	appErr := apperror.Invalid("request does not match the API schema")
	var schemaErr *openapi3.SchemaError
	if errors.As(err, &schemaErr) {
		if field := strings.Join(schemaErr.JSONPointer(), "."); field != "" {
			appErr = appErr.WithDetail("field", field)
		}
		return appErr.WithDetail("reason", schemaErr.Reason)
	}
	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		return appErr.WithDetail("reason", reqErr.Error())
	}
	return appErr.WithDetail("reason", err.Error())
}

// validateRequest 是 RequestValidator 的 gin middleware
func (s *Server) validateRequest(c *gin.Context) {
	if err := s.validator.Validate(c.Request); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.Next()
}
