package httpserver

import (
	"errors"
	"io"
	"mime/multipart"
	"strings"
	"time"

	"github.com/book-expert/voicechat-service/internal/character"
	"github.com/book-expert/voicechat-service/internal/chat"
	"github.com/book-expert/voicechat-service/internal/tts"
	"github.com/book-expert/voicechat-service/internal/tts/ttsutils"
	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
)

const (
	formFieldAudio         = "audio"
	formFieldCharacterJSON = "character_json"
	formFieldCharacterID   = "character_id"
	formFieldSpeak         = "speak"

	msgNoAudio           = "no 'audio' file in form-data"
	msgNotAudio          = "'audio' is not an audio file"
	msgCharacterRequired = "character_json or character_id is required"
	msgChatUnavailable   = "chat endpoint is not configured"
	msgListenUnavailable = "audio understanding endpoint is not configured"

	logFmtChatFailed   = "Chat request failed: %v"
	logFmtListenFailed = "Audio turn failed: %v"
	logFmtTurnCaption  = "Audio turn: user=%q bot=%q"
	logFmtSilentReply  = "Audio turn: empty reply to %q, skipping speech"
)

var (
	errCharacterRequired = errors.New(msgCharacterRequired)
	errCharacterInvalid  = errors.New("character_json is not valid JSON")
)

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Prompt        string `json:"prompt"`
	CharacterJSON string `json:"character_json"`
	CharacterID   string `json:"character_id"`
	MaxTokens     int    `json:"max_tokens"`
}

// TurnResponse is the body of a successful POST /api/turn.
type TurnResponse struct {
	User     string   `json:"user"`
	Bot      string   `json:"bot"`
	TS       string   `json:"ts"`
	AudioURL string   `json:"audio_url,omitempty"`
	Notes    []string `json:"notes,omitempty"`
}

func (s *Server) handleChat(c *fiber.Ctx) error {
	if s.deps.Roleplayer == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": msgChatUnavailable})
	}

	var body ChatRequest

	parseErr := c.BodyParser(&body)
	if parseErr != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msgInvalidBody})
	}

	profile, resolveErr := s.resolveCharacter(body.CharacterJSON, body.CharacterID)
	if resolveErr != nil {
		return writeCharacterResolveError(c, resolveErr)
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	reply, replyErr := s.deps.Roleplayer.Reply(ctx, profile, body.Prompt, body.MaxTokens)
	if errors.Is(replyErr, chat.ErrPromptEmpty) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": replyErr.Error()})
	}

	if replyErr != nil {
		s.deps.Log.Error(logFmtChatFailed, replyErr)

		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": replyErr.Error()})
	}

	return c.JSON(reply)
}

func (s *Server) handleTurn(c *fiber.Ctx) error {
	if s.deps.Listener == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": msgListenUnavailable})
	}

	fileHeader, formErr := c.FormFile(formFieldAudio)
	if formErr != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msgNoAudio})
	}

	if fileHeader.Filename != "" && !ttsutils.IsValidAudioFile(fileHeader.Filename) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msgNotAudio})
	}

	audioBytes, readErr := readFormFile(fileHeader.Open)
	if readErr != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": readErr.Error()})
	}

	characterID := c.FormValue(formFieldCharacterID)

	profile, resolveErr := s.resolveCharacter(c.FormValue(formFieldCharacterJSON), characterID)
	if resolveErr != nil {
		return writeCharacterResolveError(c, resolveErr)
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	exchange, listenErr := s.deps.Listener.Listen(ctx, profile, audioBytes)
	if listenErr != nil {
		s.deps.Log.Error(logFmtListenFailed, listenErr)

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": listenErr.Error()})
	}

	s.deps.Log.Info(logFmtTurnCaption, exchange.User, exchange.Bot)

	response := TurnResponse{
		User: exchange.User,
		Bot:  exchange.Bot,
		TS:   time.Now().UTC().Format(time.RFC3339Nano),
	}

	if !strings.EqualFold(c.FormValue(formFieldSpeak), "true") {
		return c.JSON(response)
	}

	// An empty reply leaves nothing to speak; answer with the caption only.
	if strings.TrimSpace(exchange.Bot) == "" {
		s.deps.Log.Warn(logFmtSilentReply, exchange.User)

		return c.JSON(response)
	}

	spoken, runErr := s.deps.Turns.Run(ctx, tts.TurnRequest{
		Transcript:  exchange.Bot,
		Persona:     tts.PersonaFromCharacter(profile.Persona()),
		ReturnMode:  tts.ReturnURL,
		Temperature: s.cfg.DefaultTemperature,
	})
	if runErr != nil {
		return s.writeTurnError(c, runErr)
	}

	spokenResponse, respondErr := s.turnResponse(c, tts.ReturnURL, spoken)
	if respondErr != nil {
		return respondErr
	}

	response.AudioURL = spokenResponse.AudioURL
	response.Notes = spokenResponse.Notes

	return c.JSON(response)
}

// resolveCharacter prefers a catalog id and falls back to an inline JSON record.
func (s *Server) resolveCharacter(characterJSON, characterID string) (character.Character, error) {
	if characterID != "" {
		return s.deps.Characters.Get(characterID)
	}

	if strings.TrimSpace(characterJSON) == "" {
		return character.Character{}, errCharacterRequired
	}

	var profile character.Character

	unmarshalErr := sonic.UnmarshalString(characterJSON, &profile)
	if unmarshalErr != nil {
		return character.Character{}, errCharacterInvalid
	}

	return profile, nil
}

func writeCharacterResolveError(c *fiber.Ctx, err error) error {
	if errors.Is(err, character.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}

	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
}

func readFormFile(open func() (multipart.File, error)) ([]byte, error) {
	file, openErr := open()
	if openErr != nil {
		return nil, openErr
	}
	defer file.Close()

	return io.ReadAll(file)
}
