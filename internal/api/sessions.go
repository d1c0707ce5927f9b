package api

import (
	"encoding/base64"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"medvoice/internal/apperrors"
	"medvoice/internal/pipeline"
	"medvoice/internal/privacy"
	"medvoice/internal/provider"
	"medvoice/internal/session"
)

// maxAudioBytes caps one uploaded utterance.
const maxAudioBytes = 15 << 20

type sessionHandler struct {
	sessions *session.Manager
	privacy  *privacy.Router
}

type sessionView struct {
	session.Snapshot
	PHIMarked bool `json:"phi_marked"`
}

func (h *sessionHandler) view(snap session.Snapshot) sessionView {
	return sessionView{Snapshot: snap, PHIMarked: h.privacy.IsMarked(snap.ID)}
}

func (h *sessionHandler) List(c *gin.Context) {
	snaps := h.sessions.List()
	views := make([]sessionView, 0, len(snaps))
	for _, snap := range snaps {
		views = append(views, h.view(snap))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": views, "count": len(views)})
}

func (h *sessionHandler) Get(c *gin.Context) {
	sess, ok := h.sessions.Get(c.Param("id"))
	if !ok {
		respondError(c, apperrors.Wrapf(apperrors.ErrSessionNotFound, "%s", c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, h.view(sess.Snapshot()))
}

func (h *sessionHandler) Remove(c *gin.Context) {
	id := c.Param("id")
	if !h.sessions.Remove(id) {
		respondError(c, apperrors.Wrapf(apperrors.ErrSessionNotFound, "%s", id))
		return
	}
	h.privacy.ClearSession(id)
	c.Status(http.StatusNoContent)
}

// ClearPHI drops the sticky PHI mark so later turns may route outside the
// privacy boundary again.
func (h *sessionHandler) ClearPHI(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.sessions.Get(id); !ok {
		respondError(c, apperrors.Wrapf(apperrors.ErrSessionNotFound, "%s", id))
		return
	}
	h.privacy.ClearSession(id)
	c.JSON(http.StatusOK, gin.H{"session_id": id, "phi_marked": false})
}

// turnResponse is the turn result plus the synthesized audio, base64
// encoded for JSON transport.
type turnResponse struct {
	*pipeline.TurnResult
	DegradationApplied bool                 `json:"degradation_applied"`
	AudioBase64        string               `json:"audio_base64,omitempty"`
	AudioFormat        provider.AudioFormat `json:"audio_format,omitempty"`
}

// Turn accepts one multipart utterance and runs it through the pipeline.
// The session is created on first use.
func (h *sessionHandler) Turn(c *gin.Context) {
	id := c.Param("id")

	file, header, err := c.Request.FormFile("audio")
	if err != nil {
		badRequest(c, "multipart field audio is required")
		return
	}
	defer file.Close()
	if header.Size > maxAudioBytes {
		badRequest(c, "audio exceeds the 15MB limit")
		return
	}

	audio, err := io.ReadAll(io.LimitReader(file, maxAudioBytes+1))
	if err != nil {
		respondError(c, apperrors.Wrap(err, "read audio"))
		return
	}
	if len(audio) == 0 {
		badRequest(c, "audio is empty")
		return
	}
	if len(audio) > maxAudioBytes {
		badRequest(c, "audio exceeds the 15MB limit")
		return
	}

	req := pipeline.TurnRequest{
		SessionID: id,
		TurnID:    c.PostForm("turn_id"),
		Audio:     audio,
		Format:    audioFormat(header.Filename, c.PostForm("format")),
	}
	if hints := c.PostForm("language_hints"); hints != "" {
		for _, hint := range strings.Split(hints, ",") {
			if hint = strings.TrimSpace(hint); hint != "" {
				req.LanguageHints = append(req.LanguageHints, hint)
			}
		}
	}

	sess, _ := h.sessions.GetOrCreate(id)
	outcome, err := sess.ProcessTurn(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := turnResponse{
		TurnResult:         outcome.Result,
		DegradationApplied: outcome.DegradationApplied,
	}
	if sp := outcome.Result.Speech; sp != nil && len(sp.Audio) > 0 {
		resp.AudioBase64 = base64.StdEncoding.EncodeToString(sp.Audio)
		resp.AudioFormat = sp.Format
	}
	c.JSON(http.StatusOK, resp)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error":      msg,
		"request_id": c.GetString(requestIDKey),
	})
}

// audioFormat prefers the explicit form value, then the upload's file
// extension.
func audioFormat(filename, explicit string) provider.AudioFormat {
	if explicit != "" {
		return provider.AudioFormat(strings.ToLower(explicit))
	}
	switch strings.ToLower(path.Ext(filename)) {
	case ".mp3":
		return provider.FormatMP3
	case ".ogg":
		return provider.FormatOGG
	case ".webm":
		return provider.FormatWEBM
	case ".pcm":
		return provider.FormatPCM
	default:
		return provider.FormatWAV
	}
}
