package spc

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"facecache/internal/cacheerrors"
	"facecache/internal/config"
	"facecache/internal/faceparams"
	"facecache/pkg/wireproto"
)

// NewRouter builds the gin engine serving POST /api/replicate, restricting
// every other method to 405 with Allow: POST (§4.4.1).
func NewRouter(svc *Service, cfg config.Config, quantizer faceparams.Quantizer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.HandleMethodNotAllowed = true
	r.NoMethod(func(c *gin.Context) {
		c.Header("Allow", http.MethodPost)
		c.JSON(http.StatusMethodNotAllowed, wireproto.ErrorResponse{Error: "method not allowed"})
	})

	r.POST("/api/replicate", replicateHandler(svc, cfg, quantizer))
	return r
}

func replicateHandler(svc *Service, cfg config.Config, quantizer faceparams.Quantizer) gin.HandlerFunc {
	defaults := faceparams.TransportDefaults{
		OutputFormat:  cfg.DefaultOutputFormat,
		OutputQuality: cfg.DefaultOutputQuality,
		SampleRatio:   cfg.DefaultSampleRatio,
		CropFactor:    cfg.DefaultCropFactor,
		SrcRatio:      cfg.DefaultSrcRatio,
	}

	return func(c *gin.Context) {
		var req wireproto.ReplicateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, wireproto.ErrorResponse{Error: "malformed request body"})
			return
		}
		if req.Image == "" {
			c.JSON(http.StatusBadRequest, wireproto.ErrorResponse{Error: "missing image"})
			return
		}
		if !wireproto.ValidOutputFormat(req.OutputFormat) {
			c.JSON(http.StatusBadRequest, wireproto.ErrorResponse{Error: "unknown output format: " + req.OutputFormat})
			return
		}

		params := req.ToFaceParameters(defaults)
		params.ModelID = cfg.ModelID
		quantized, err := quantizer.Quantize(params)
		if err != nil {
			c.JSON(http.StatusBadRequest, wireproto.ErrorResponse{Error: err.Error()})
			return
		}

		url, err := svc.Replicate(c.Request.Context(), quantized)
		if err != nil {
			status := http.StatusInternalServerError
			if cacheerrors.KindOf(err) == cacheerrors.KindInvalidParameter {
				status = http.StatusBadRequest
			}
			c.JSON(status, wireproto.ErrorResponse{Error: err.Error()})
			return
		}

		c.JSON(http.StatusOK, wireproto.ReplicateResponse{URL: url})
	}
}
