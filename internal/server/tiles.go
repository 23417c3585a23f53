package server

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"hips-mosaic/internal/healpix"
	"hips-mosaic/internal/hips"
	"hips-mosaic/internal/imagery"
	"hips-mosaic/pkg/response"
)

// contentTypes maps HiPS tile formats to MIME types.
var contentTypes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"webp": "image/webp",
}

func contentType(format string) string {
	if ct, ok := contentTypes[strings.ToLower(format)]; ok {
		return ct
	}
	return "application/octet-stream"
}

// tile serves HiPS tiles through the persistent cache.
// URL format: /api/v1/tiles/{survey}/{order}/{pixel}[.ext]
func (s *Server) tile(c *gin.Context) {
	survey, err := s.pipeline.Registry().Get(c.Param("survey"))
	if err != nil {
		response.NotFound(c, "Unknown survey", err)
		return
	}
	order, err := strconv.Atoi(c.Param("order"))
	if err != nil {
		response.BadRequest(c, "Invalid order", err)
		return
	}
	pixelText := strings.TrimSuffix(c.Param("pixel"), path.Ext(c.Param("pixel")))
	n, err := strconv.ParseInt(pixelText, 10, 64)
	if err != nil {
		response.BadRequest(c, "Invalid pixel", err)
		return
	}
	pixel := healpix.Pixel(n)
	if err := healpix.ValidatePixel(pixel, order); err != nil {
		response.BadRequest(c, "Invalid pixel", err)
		return
	}
	if order > survey.MaxOrder {
		response.BadRequest(c, fmt.Sprintf("%s supports order <= %d", survey.ID, survey.MaxOrder))
		return
	}

	tc := s.pipeline.Cache()
	if tc != nil {
		if data, found := tc.Get(survey.ID, order, pixel); found {
			writeTile(c, survey, data, "HIT")
			return
		}
	}

	log.Printf("[Server] Cache miss, fetching %s order %d pixel %d", survey.ID, order, pixel)
	data, err := s.client.FetchTile(c.Request.Context(), survey, order, pixel)
	if err == nil {
		err = imagery.Validate(data, survey.Format)
	}
	if err != nil {
		log.Printf("[Server] Failed to fetch tile: %v", err)
		status := statusFor(err)
		if status == http.StatusInternalServerError && !errors.Is(err, imagery.ErrTooSmall) {
			status = http.StatusBadGateway
		}
		response.Error(c, status, "Failed to fetch tile", err)
		return
	}

	if tc != nil {
		if err := tc.Set(survey.ID, order, pixel, survey.Format, data); err != nil {
			log.Printf("[Server] Failed to cache tile: %v", err)
		}
	}
	writeTile(c, survey, data, "MISS")
}

func writeTile(c *gin.Context, survey hips.Survey, data []byte, cacheStatus string) {
	c.Header("Cache-Control", "public, max-age=31536000")
	c.Header("X-Cache-Status", cacheStatus)
	c.Data(http.StatusOK, contentType(survey.Format), data)
}
