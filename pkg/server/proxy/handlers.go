package proxy

import (
	"io"
	"net/http"
	"net/url"

	"searchcore/pkg/apicall"
	"searchcore/pkg/log"

	"github.com/dustin/go-humanize"
	"github.com/hyp3rd/ewrap"
	"github.com/labstack/echo/v4"
)

// useDefaultTTL makes CallCached use the configured cache lifetime.
const useDefaultTTL = -1

// HealthHandler reports that the gateway itself is up.
func (s *Server) HealthHandler(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// NodesHandler reports the health of every configured node.
func (s *Server) NodesHandler(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, s.client.Nodes())
}

// SearchHandler serves single-collection searches through the response cache.
func (s *Server) SearchHandler(ctx echo.Context) error {
	collection := ctx.Param("collection")
	if collection == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{
			"message": "Collection parameter is required",
		})
	}

	// echo hands out the raw segment when the request path carries escapes.
	if unescaped, err := url.PathUnescape(collection); err == nil {
		collection = unescaped
	}

	path := "/collections/" + url.PathEscape(collection) + "/documents/search"
	resp, err := s.client.CallCached(ctx.Request().Context(), http.MethodGet, path,
		ctx.QueryParams(), nil, nil, useDefaultTTL)
	if err != nil {
		return writeError(ctx, err)
	}

	return writeResponse(ctx, resp)
}

// MultiSearchHandler serves multi-searches through the response cache. The
// body is forwarded as-is so newline-delimited payloads survive.
func (s *Server) MultiSearchHandler(ctx echo.Context) error {
	body, err := readBody(ctx)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"message": err.Error()})
	}

	log.Debug().
		Str("size", humanize.Bytes(uint64(len(body)))).
		Str("content_type", ctx.Request().Header.Get(echo.HeaderContentType)).
		Msg("Multi search request")

	resp, err := s.client.CallCached(ctx.Request().Context(), http.MethodPost, "/multi_search",
		ctx.QueryParams(), body, forwardedHeader(ctx), useDefaultTTL)
	if err != nil {
		return writeError(ctx, err)
	}

	return writeResponse(ctx, resp)
}

// PassthroughHandler forwards any other request without caching.
func (s *Server) PassthroughHandler(ctx echo.Context) error {
	body, err := readBody(ctx)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"message": err.Error()})
	}

	req := ctx.Request()
	resp, err := s.client.Call(req.Context(), req.Method, req.URL.EscapedPath(), ctx.QueryParams(),
		body, forwardedHeader(ctx))
	if err != nil {
		return writeError(ctx, err)
	}

	return writeResponse(ctx, resp)
}

func readBody(ctx echo.Context) ([]byte, error) {
	body, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return nil, ewrap.Wrap(err, "read request body")
	}
	if len(body) == 0 {
		return nil, nil
	}
	return body, nil
}

func forwardedHeader(ctx echo.Context) http.Header {
	contentType := ctx.Request().Header.Get(echo.HeaderContentType)
	if contentType == "" {
		return nil
	}
	return http.Header{echo.HeaderContentType: {contentType}}
}

func writeResponse(ctx echo.Context, resp *apicall.Response) error {
	contentType := resp.Header.Get(echo.HeaderContentType)
	if contentType == "" {
		contentType = echo.MIMEApplicationJSON
	}
	return ctx.Blob(resp.StatusCode, contentType, resp.Body)
}
