package httpserver

import (
	"errors"
	"fmt"

	"github.com/book-expert/voicechat-service/internal/character"
	"github.com/gofiber/fiber/v2"
)

const (
	msgCharactersListed   = "Characters retrieved"
	msgCharacterFound     = "Character retrieved"
	msgCharacterCreated   = "Character created"
	msgCharacterUpdated   = "Character updated"
	msgCharacterDeleted   = "Character deleted"
	msgCharacterNotFound  = "Character not found"
	msgStatsComputed      = "Statistics retrieved"
	msgFmtSearchCompleted = "Search completed, found %d characters"
	msgFmtCreateFailed    = "Failed to create character: %v"
	msgFmtUpdateFailed    = "Failed to update character: %v"
)

// Envelope is the response wrapper of the character routes.
type Envelope struct {
	Data    any    `json:"data,omitempty"`
	Message string `json:"message"`
	Success bool   `json:"success"`
}

func success(c *fiber.Ctx, status int, data any, message string) error {
	return c.Status(status).JSON(Envelope{Data: data, Message: message, Success: true})
}

func failure(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(Envelope{Message: message})
}

func (s *Server) handleListCharacters(c *fiber.Ctx) error {
	return success(c, fiber.StatusOK, s.deps.Characters.All(), msgCharactersListed)
}

func (s *Server) handleGetCharacter(c *fiber.Ctx) error {
	found, err := s.deps.Characters.Get(c.Params("id"))
	if err != nil {
		return failure(c, fiber.StatusNotFound, msgCharacterNotFound)
	}

	return success(c, fiber.StatusOK, found, msgCharacterFound)
}

func (s *Server) handleCreateCharacter(c *fiber.Ctx) error {
	var input character.Character

	parseErr := c.BodyParser(&input)
	if parseErr != nil {
		return failure(c, fiber.StatusBadRequest, fmt.Sprintf(msgFmtCreateFailed, parseErr))
	}

	created, createErr := s.deps.Characters.Create(input)
	if createErr != nil {
		return failure(c, fiber.StatusBadRequest, fmt.Sprintf(msgFmtCreateFailed, createErr))
	}

	s.deps.Metrics.SetCharacterCount(s.deps.Characters.Count())

	return success(c, fiber.StatusCreated, created, msgCharacterCreated)
}

func (s *Server) handleUpdateCharacter(c *fiber.Ctx) error {
	var patch character.Patch

	parseErr := c.BodyParser(&patch)
	if parseErr != nil {
		return failure(c, fiber.StatusBadRequest, fmt.Sprintf(msgFmtUpdateFailed, parseErr))
	}

	updated, updateErr := s.deps.Characters.Update(c.Params("id"), patch)
	if errors.Is(updateErr, character.ErrNotFound) {
		return failure(c, fiber.StatusNotFound, msgCharacterNotFound)
	}

	if updateErr != nil {
		return failure(c, fiber.StatusBadRequest, fmt.Sprintf(msgFmtUpdateFailed, updateErr))
	}

	return success(c, fiber.StatusOK, updated, msgCharacterUpdated)
}

func (s *Server) handleDeleteCharacter(c *fiber.Ctx) error {
	deleteErr := s.deps.Characters.Delete(c.Params("id"))
	if errors.Is(deleteErr, character.ErrNotFound) {
		return failure(c, fiber.StatusNotFound, msgCharacterNotFound)
	}

	if deleteErr != nil {
		return failure(c, fiber.StatusInternalServerError, deleteErr.Error())
	}

	s.deps.Metrics.SetCharacterCount(s.deps.Characters.Count())

	return success(c, fiber.StatusOK, nil, msgCharacterDeleted)
}

func (s *Server) handleSearchCharacters(c *fiber.Ctx) error {
	matches := s.deps.Characters.Search(c.Query("q"))

	return success(c, fiber.StatusOK, matches, fmt.Sprintf(msgFmtSearchCompleted, len(matches)))
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	return success(c, fiber.StatusOK, s.deps.Characters.Stats(), msgStatsComputed)
}
