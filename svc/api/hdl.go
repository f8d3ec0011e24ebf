package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"

	"vanishbin/cfg"
	"vanishbin/pkg/domain"
	"vanishbin/svc/svc"
	"vanishbin/svc/util"
)

const (
	testNowHeader = "X-Test-Now-Ms"
	isoMillis     = "2006-01-02T15:04:05.000Z"
	// largest integer a JSON number can carry without loss in common clients
	maxSafeInteger = 1<<53 - 1
)

type Hdl struct {
	paste *svc.Paste
	cfg   *cfg.Cfg
}

// CreateReq keeps every field raw: an absent field must stay distinguishable
// from null, a string or a fraction.
type CreateReq struct {
	Content    json.RawMessage `json:"content"`
	TTLSeconds json.RawMessage `json:"ttl_seconds"`
	MaxViews   json.RawMessage `json:"max_views"`
}
type CreateResp struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}
type GetResp struct {
	Content        string  `json:"content"`
	RemainingViews *int64  `json:"remaining_views"`
	ExpiresAt      *string `json:"expires_at"`
}

// now is the request's notion of the current time in unix ms. In test mode
// a numeric X-Test-Now-Ms header replaces the clock; negative values clamp
// to 0 so no deadline can land on the -1 sentinel.
func (h *Hdl) now(r *http.Request) int64 {
	if h.cfg.TestMode {
		if v := strings.TrimSpace(r.Header.Get(testNowHeader)); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return max(n, 0)
			}
			if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) &&
				f >= math.MinInt64 && f < math.MaxInt64 {
				return max(int64(f), 0)
			}
		}
	}
	return h.paste.Now()
}

func (h *Hdl) CreatePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	if r.ContentLength > h.cfg.MaxBodyBytes {
		log.Warn().Int64("content_length", r.ContentLength).Msg("Content-Length exceeds maximum")
		writeErr(w, domain.ErrPayloadTooLarge, requestID)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			log.Warn().Int64("limit", maxErr.Limit).Msg("request body too large")
			writeErr(w, domain.ErrPayloadTooLarge, requestID)
			return
		}
		log.Warn().Err(err).Msg("failed to read body")
		writeErr(w, domain.ErrInvalidJSON, requestID)
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}
	var req CreateReq
	if err := json.Unmarshal(body, &req); err != nil {
		log.Warn().Err(err).Msg("invalid request")
		writeErr(w, domain.ErrInvalidJSON, requestID)
		return
	}
	params, err := parseCreate(req)
	if err != nil {
		log.Warn().Err(err).Msg("rejected create")
		writeErr(w, err, requestID)
		return
	}
	params.Now, params.NowSet = h.now(r), true
	paste, err := h.paste.Create(r.Context(), params)
	if err != nil {
		log.Error().Err(err).Msg("failed to create paste")
		writeErr(w, err, requestID)
		return
	}
	log.Info().
		Str("paste_id", paste.ID).
		Int64("ttl_seconds", params.TTLSeconds).
		Int64("max_views", params.MaxViews).
		Msg("paste created")
	writeJSON(w, http.StatusCreated, CreateResp{
		ID:  paste.ID,
		URL: h.baseURL(r) + "/p/" + paste.ID,
	})
}

func parseCreate(req CreateReq) (domain.CreateParams, error) {
	var params domain.CreateParams
	if len(req.Content) == 0 || req.Content[0] != '"' {
		return params, domain.ErrInvalidContent
	}
	if err := json.Unmarshal(req.Content, &params.Content); err != nil {
		return params, domain.ErrInvalidContent
	}
	if strings.TrimSpace(params.Content) == "" {
		return params, domain.ErrInvalidContent
	}
	var ok bool
	if params.TTLSeconds, ok = positiveInt(req.TTLSeconds); !ok {
		return params, domain.ErrInvalidTTL
	}
	if params.MaxViews, ok = positiveInt(req.MaxViews); !ok {
		return params, domain.ErrInvalidMaxViews
	}
	return params, nil
}

// positiveInt accepts an absent field (0) or a JSON number with an integral
// value >= 1. 3.0 and 3e0 count as 3; strings, null, booleans and fractions
// do not.
func positiveInt(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, true
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return 0, false
	}
	num, isNum := v.(json.Number)
	if !isNum {
		return 0, false
	}
	if n, err := num.Int64(); err == nil {
		return n, n >= 1 && n <= maxSafeInteger
	}
	f, err := num.Float64()
	if err != nil || f != math.Trunc(f) || f < 1 || f > maxSafeInteger {
		return 0, false
	}
	return int64(f), true
}

// baseURL is PUBLIC_BASE_URL when set, else derived from forwarding headers
// and the Host header.
func (h *Hdl) baseURL(r *http.Request) string {
	if h.cfg.PublicBaseURL != "" {
		return h.cfg.PublicBaseURL
	}
	proto := firstHeaderValue(r.Header.Get("X-Forwarded-Proto"))
	if proto == "" {
		proto = "http"
		if r.TLS != nil {
			proto = "https"
		}
	}
	host := firstHeaderValue(r.Header.Get("X-Forwarded-Host"))
	if host == "" {
		host = r.Host
	}
	return proto + "://" + host
}

func firstHeaderValue(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}

func (h *Hdl) GetPaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	paste, err := h.paste.Consume(r.Context(), id, h.now(r))
	if err != nil {
		if !errors.Is(err, domain.ErrPasteNotFound) {
			log.Error().Err(err).Str("paste_id", id).Msg("consume failed")
		}
		w.Header().Set("Cache-Control", "no-store")
		writeErr(w, err, requestID)
		return
	}
	resp := GetResp{
		Content:        paste.Content,
		RemainingViews: paste.RemainingViews(),
	}
	if t := paste.ExpiresAtTime(); t != nil {
		s := t.Format(isoMillis)
		resp.ExpiresAt = &s
	}
	log.Info().Str("paste_id", id).Int64("views_used", paste.ViewsUsed).Msg("paste retrieved")
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

const pastePage = `<!doctype html>
<html>
  <head>
    <meta charset="UTF-8" />
    <title>Paste</title>
  </head>
  <body>
    <pre>%s</pre>
  </body>
</html>`

func (h *Hdl) ViewPaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	paste, err := h.paste.Consume(r.Context(), id, h.now(r))
	w.Header().Set("Cache-Control", "no-store")
	switch {
	case err == nil:
		log.Info().Str("paste_id", id).Int64("views_used", paste.ViewsUsed).Msg("paste rendered")
		writeHTML(w, http.StatusOK, fmt.Sprintf(pastePage, htmlEscaper.Replace(paste.Content)))
	case errors.Is(err, domain.ErrPasteNotFound):
		writeHTML(w, http.StatusNotFound, domain.ErrPasteNotFound.Msg)
	default:
		log.Error().Err(err).Str("paste_id", id).Msg("consume failed")
		e := domain.ErrBackendUnavailable
		if !errors.Is(err, domain.ErrBackendUnavailable) {
			e = domain.ErrInternalServer
		}
		writeHTML(w, e.Status, e.Msg)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeHTML(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func writeErr(w http.ResponseWriter, err error, requestID string) {
	statusCode := domain.Status(err)
	detail := domain.ToResp(err).Error
	if statusCode == http.StatusInternalServerError {
		detail.Msg = domain.ErrInternalServer.Msg
		util.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("internal error with detailed info")
	}
	writeJSON(w, statusCode, map[string]string{
		"error":      detail.Msg,
		"code":       detail.Code,
		"request_id": requestID,
	})
}
