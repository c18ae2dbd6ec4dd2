package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type createRoomResponse struct {
	RoomID   uint   `json:"room_id"`
	MaxSeats int    `json:"max_seats"`
	WSPath   string `json:"ws_path"`
}

type resultsResponse struct {
	RoomID   uint          `json:"room_id"`
	PlayerID uint          `json:"player_id"`
	Results  []ResultEntry `json:"results"`
}

func (s *Server) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleCreateRoom(c *gin.Context) {
	room, err := s.coord.CreateRoom(c.Request.Context())
	if err != nil {
		logrus.WithError(err).Error("create room")
		writeError(c, http.StatusInternalServerError, "failed to create room")
		return
	}
	logrus.WithField("room_id", room.ID).Info("room created")
	writeJSON(c, http.StatusCreated, createRoomResponse{
		RoomID:   room.ID,
		MaxSeats: s.dir.MaxSeats(),
		WSPath:   fmt.Sprintf("/ws/rooms/%d", room.ID),
	})
}

func (s *Server) handleGetRoom(c *gin.Context) {
	var uri roomURI
	if !bindURI(c, &uri, http.StatusNotFound, nil, "room not found") {
		return
	}
	snapshot, err := s.coord.Snapshot(c.Request.Context(), uri.ID)
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, snapshot)
}

func (s *Server) handleResults(c *gin.Context) {
	var room roomURI
	if !bindURI(c, &room, http.StatusNotFound, nil, "room not found") {
		return
	}
	var player playerURI
	if !bindURI(c, &player, http.StatusBadRequest, playerURIMessages, "invalid player id") {
		return
	}
	results, err := s.coord.Results(c.Request.Context(), room.ID, player.PlayerID)
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, resultsResponse{RoomID: room.ID, PlayerID: player.PlayerID, Results: results})
}

func (s *Server) writeDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrRoomNotFound), errors.Is(err, ErrSeatNotFound):
		writeError(c, http.StatusNotFound, userMessage(err))
	default:
		logrus.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
