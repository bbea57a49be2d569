// Package statusapi exposes a chat session over HTTP: its state, live
// connections and transcript, a send endpoint, and barcode rendering.
package statusapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/omochice/barcodechat/internal/chat"
	"github.com/omochice/barcodechat/internal/session"
	"github.com/omochice/barcodechat/pkg/barcode"
)

// MaxTextLength caps the bytes of text accepted for sending or rendering.
const MaxTextLength = 1024

// maxBodySize bounds a POST /messages body, leaving room for JSON escapes.
const maxBodySize = 16 * MaxTextLength

// Service is the part of session.Manager the API reads and drives.
type Service interface {
	Status() chat.Status
	Connections() []session.Connection
	History() []session.Entry
	Send(ctx context.Context, text string) error
	Normalize(text string) string
	Layout() barcode.Layout
}

var _ Service = (*session.Manager)(nil)

type Handler struct {
	svc Service
}

func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/healthz", h.Health)
	rg.GET("/status", h.Status)
	rg.GET("/peers", h.Peers)
	rg.GET("/messages", h.Messages)
	rg.POST("/messages", h.Send)
	rg.GET("/barcode", h.Barcode)
	rg.GET("/barcode.png", h.BarcodePNG)
}

// NewRouter builds the engine with recovery and request logging.
func NewRouter(svc Service, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))
	NewHandler(svc).RegisterRoutes(&r.RouterGroup)
	return r
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

type statusResponse struct {
	State       string `json:"state"`
	Description string `json:"description"`
	Host        string `json:"host,omitempty"`
	Port        int    `json:"port,omitempty"`
	Connections int    `json:"connections"`
}

type sendRequest struct {
	Text string `json:"text" binding:"required"`
}

type symbolResponse struct {
	Char    string `json:"char"`
	Pattern string `json:"pattern"`
}

type decodedResponse struct {
	Pattern    string   `json:"pattern"`
	Candidates []string `json:"candidates"`
	Unique     bool     `json:"unique"`
}

type barcodeResponse struct {
	Text       string            `json:"text"`
	Encoded    string            `json:"encoded"`
	Symbols    []symbolResponse  `json:"symbols"`
	Width      int               `json:"width"`
	Height     int               `json:"height"`
	Layout     barcode.Layout    `json:"layout"`
	Bars       int               `json:"bars"`
	Decoded    []decodedResponse `json:"decoded"`
	BestEffort string            `json:"best_effort"`
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) Status(c *gin.Context) {
	st := h.svc.Status()
	c.JSON(http.StatusOK, statusResponse{
		State:       st.State.String(),
		Description: st.String(),
		Host:        st.Host,
		Port:        st.Port,
		Connections: len(h.svc.Connections()),
	})
}

func (h *Handler) Peers(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Connections())
}

func (h *Handler) Messages(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.History())
}

func (h *Handler) Send(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)

	var in sendRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(in.Text) > MaxTextLength {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": errTextTooLong.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.svc.Send(ctx, in.Text); err != nil {
		var sendErr *session.SendError
		switch {
		case errors.Is(err, session.ErrNotConnected):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, session.ErrMessageTooLarge):
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		case errors.As(err, &sendErr):
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"text": h.svc.Normalize(in.Text)})
}

var errTextTooLong = fmt.Errorf("text longer than %d bytes", MaxTextLength)

// render encodes the text query. It writes a 413 and reports false when the
// text is too long to draw.
func (h *Handler) render(c *gin.Context) (string, barcode.Sequence, barcode.Image, bool) {
	text := c.Query("text")
	if len(text) > MaxTextLength {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": errTextTooLong.Error()})
		return "", nil, barcode.Image{}, false
	}
	text = h.svc.Normalize(text)
	seq := barcode.Encode(text)
	return text, seq, barcode.Render(seq, h.svc.Layout()), true
}

func (h *Handler) Barcode(c *gin.Context) {
	text, seq, img, ok := h.render(c)
	if !ok {
		return
	}

	symbols := make([]symbolResponse, 0, len(seq))
	for _, s := range seq {
		symbols = append(symbols, symbolResponse{Char: string(s.Char), Pattern: string(s.Pattern)})
	}

	results := barcode.Scan(img)
	decoded := make([]decodedResponse, 0, len(results))
	for _, r := range results {
		candidates := make([]string, 0, len(r.Candidates))
		for _, ch := range r.Candidates {
			candidates = append(candidates, string(ch))
		}
		decoded = append(decoded, decodedResponse{
			Pattern:    string(r.Pattern),
			Candidates: candidates,
			Unique:     r.Unique(),
		})
	}

	c.JSON(http.StatusOK, barcodeResponse{
		Text:       text,
		Encoded:    seq.Text(),
		Symbols:    symbols,
		Width:      img.Width,
		Height:     img.Height,
		Layout:     img.Layout,
		Bars:       len(img.Bars),
		Decoded:    decoded,
		BestEffort: barcode.BestEffortText(results),
	})
}

func (h *Handler) BarcodePNG(c *gin.Context) {
	_, _, img, ok := h.render(c)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, barcode.Rasterize(img)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}
