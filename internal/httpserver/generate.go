package httpserver

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/voicechat-service/internal/tts"
	"github.com/gofiber/fiber/v2"
)

const (
	msgTurnCancelled = "Turn cancelled"
	msgInvalidBody   = "request body must be valid JSON"

	logFmtTurnFailed = "Turn failed: %v"
)

// GenerateRequest is the body of POST /generate.
type GenerateRequest struct {
	Temperature             *float64       `json:"temperature"`
	Seed                    *int           `json:"seed"`
	Style                   *tts.StyleSpec `json:"style"`
	Transcript              string         `json:"transcript"`
	ChunkMethod             string         `json:"chunk_method"`
	Persona                 string         `json:"persona"`
	CharacterID             string         `json:"character_id"`
	ReturnAudio             string         `json:"return_audio"`
	Filename                string         `json:"filename"`
	VoiceRefs               []string       `json:"voice_refs"`
	RefAudioInSystemMessage bool           `json:"ref_audio_in_system_message"`
}

// GenerateResponse is the body of a successful POST /generate.
type GenerateResponse struct {
	ID          string   `json:"id"`
	AudioBase64 string   `json:"audio_base64,omitempty"`
	AudioURL    string   `json:"audio_url,omitempty"`
	Notes       []string `json:"notes"`
	Temperature float64  `json:"temperature"`
}

// GenerationFailureDetail is the detail of a 500 caused by the generation primitive.
type GenerationFailureDetail struct {
	Message string `json:"message"`
	Stderr  string `json:"stderr"`
	Stdout  string `json:"stdout"`
}

func (r GenerateRequest) turnRequest(defaultTemperature float64) tts.TurnRequest {
	temperature := defaultTemperature
	if r.Temperature != nil {
		temperature = *r.Temperature
	}

	returnMode := r.ReturnAudio
	if returnMode == "" {
		returnMode = tts.ReturnBase64
	}

	return tts.TurnRequest{
		Seed:                    r.Seed,
		Style:                   r.Style,
		Transcript:              r.Transcript,
		ChunkMethod:             r.ChunkMethod,
		Persona:                 r.Persona,
		CharacterID:             r.CharacterID,
		Filename:                r.Filename,
		ReturnMode:              returnMode,
		VoiceRefs:               r.VoiceRefs,
		Temperature:             temperature,
		RefAudioInSystemMessage: r.RefAudioInSystemMessage,
	}
}

func (s *Server) handleGenerate(c *fiber.Ctx) error {
	var body GenerateRequest

	parseErr := c.BodyParser(&body)
	if parseErr != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"detail": msgInvalidBody})
	}

	req := body.turnRequest(s.cfg.DefaultTemperature)

	ctx, cancel := s.requestContext(c)
	defer cancel()

	result, runErr := s.deps.Turns.Run(ctx, req)
	if runErr != nil {
		return s.writeTurnError(c, runErr)
	}

	response, respondErr := s.turnResponse(c, req.ReturnMode, result)
	if respondErr != nil {
		return respondErr
	}

	return c.JSON(response)
}

func (s *Server) turnResponse(c *fiber.Ctx, returnMode string, result *tts.TurnResult) (GenerateResponse, error) {
	response := GenerateResponse{
		ID:          result.ID,
		Notes:       result.Notes,
		Temperature: result.Temperature,
	}

	if returnMode == tts.ReturnURL {
		response.AudioURL = fmt.Sprintf("%s%s/%s",
			strings.TrimSuffix(c.BaseURL(), "/"), audioRoutePrefix, filepath.Base(result.OutputPath))

		return response, nil
	}

	data, readErr := os.ReadFile(result.OutputPath)
	if readErr != nil {
		return response, fiber.NewError(fiber.StatusInternalServerError, readErr.Error())
	}

	response.AudioBase64 = base64.StdEncoding.EncodeToString(data)

	return response, nil
}

// writeTurnError maps turn failures onto status codes and detail bodies.
func (s *Server) writeTurnError(c *fiber.Ctx, err error) error {
	s.deps.Log.Error(logFmtTurnFailed, err)

	var (
		validationErr *tts.ValidationError
		generationErr *tts.GenerationError
		assemblyErr   *tts.AssemblyError
		missingErr    *tts.MissingOutputError
	)

	switch {
	case errors.As(err, &validationErr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"detail": validationErr.Error()})
	case errors.Is(err, tts.ErrTurnCancelled):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"detail": msgTurnCancelled})
	case errors.As(err, &generationErr):
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"detail": GenerationFailureDetail{
				Message: generationErr.Message(),
				Stderr:  generationErr.Stderr,
				Stdout:  generationErr.Stdout,
			},
		})
	case errors.As(err, &assemblyErr):
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"detail": assemblyErr.Error()})
	case errors.As(err, &missingErr):
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"detail": missingErr.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"detail": err.Error()})
	}
}
