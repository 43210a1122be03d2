package handler

import (
	"io"

	"github.com/gin-gonic/gin"

	"github.com/evermind-ai/evermind/internal/pkg/errcode"
	"github.com/evermind-ai/evermind/internal/pkg/response"
	"github.com/evermind-ai/evermind/internal/service"
)

type AssetHandler struct {
	ingest *service.IngestService
}

func NewAssetHandler(ingest *service.IngestService) *AssetHandler {
	return &AssetHandler{ingest: ingest}
}

// Upload acks with the asset in state "uploaded"; processing continues in
// the background and is observable through Get/List.
func (h *AssetHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, errcode.ErrInvalid, "file is required")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "cannot open upload")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		response.Error(c, errcode.ErrUploadFailed, "cannot read upload")
		return
	}
	asset, err := h.ingest.Upload(c.Request.Context(), getUserID(c), fileHeader.Filename, fileHeader.Header.Get("Content-Type"), data)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, asset)
}

func (h *AssetHandler) List(c *gin.Context) {
	limit := parseUintQuery(c, "limit", 20)
	offset := parseUintQuery(c, "offset", 0)
	items, err := h.ingest.ListAssets(c.Request.Context(), getUserID(c), limit, offset)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, items)
}

func (h *AssetHandler) Get(c *gin.Context) {
	asset, err := h.ingest.GetAsset(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, asset)
}

func (h *AssetHandler) Delete(c *gin.Context) {
	if err := h.ingest.DeleteAsset(c.Request.Context(), getUserID(c), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}
