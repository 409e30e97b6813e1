package handler

import (
	"net/http"

	"github.com/koopa0/system-design/14-link-redirector/internal/links"
	apperrors "github.com/koopa0/system-design/14-link-redirector/pkg/errors"
)

type linkRequest struct {
	Link        string `json:"link"`
	Destination string `json:"destination"`
}

type deleteRequest struct {
	Link string `json:"link"`
}

type listResponse struct {
	Links map[string]string `json:"links"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// redirect 重定向到目的地
//
// API: GET /{code}
// Response: 308 Permanent Redirect, Location: <destination>
//
// 只讀快取，不碰資料庫。Location 直接寫入，不經 http.Redirect
// 的路徑清理，目的地保持原樣。
func (h *Handler) redirect(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")

	destination, err := h.links.Resolve(r.Context(), code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Location", destination)
	w.WriteHeader(http.StatusPermanentRedirect)
}

// rootPage 首頁
func (h *Handler) rootPage(w http.ResponseWriter, r *http.Request) {
	if h.root != "" {
		if !links.ValidRedirectTarget(h.root) {
			h.writeError(w, r, apperrors.ErrInvalidRedirectTarget)
			return
		}
		w.Header().Set("Location", h.root)
		w.WriteHeader(http.StatusPermanentRedirect)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rootPage)
}

// list 列出所有連結
//
// API: GET /api/list
// Response: {"links": {"<code>": "<destination>", ...}}
func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	all, err := h.links.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := listResponse{Links: make(map[string]string, len(all))}
	for _, l := range all {
		resp.Links[l.Code] = l.Destination
	}
	h.writeJSON(w, resp, http.StatusOK)
}

// add 新增連結
//
// API: POST /api/add
// Body: {"link": "gh", "destination": "https://github.com"}
// Response: 201 {"message": "Link added!"}
func (h *Handler) add(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.links.Add(r.Context(), req.Link, req.Destination); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, messageResponse{Message: "Link added!"}, http.StatusCreated)
}

// edit 修改連結目的地
//
// API: PUT /api/edit
// Body: {"link": "gh", "destination": "https://gitlab.com"}
func (h *Handler) edit(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.links.Edit(r.Context(), req.Link, req.Destination); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, messageResponse{Message: "Link edited!"}, http.StatusOK)
}

// delete 刪除連結
//
// API: DELETE /api/delete
// Body: {"link": "gh"}
func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.links.Delete(r.Context(), req.Link); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, messageResponse{Message: "Link removed!"}, http.StatusOK)
}
