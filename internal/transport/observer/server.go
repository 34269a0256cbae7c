package observer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/UngaBanana9000/CPRbai/internal/protocol"
	"github.com/UngaBanana9000/CPRbai/internal/sim/cycle"
	"github.com/UngaBanana9000/CPRbai/internal/sim/knowledge"
)

// Run is the part of the cycle orchestrator the observer needs.
type Run interface {
	Config() cycle.Config
	CurrentCycle() uint64
	Subscribe(id string, out chan []byte, sub cycle.Subscription)
	Unsubscribe(id string)
	RemoveAgent(id knowledge.ID) error
}

type Server struct {
	run    Run
	params protocol.RunParams
	log    *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(run Run, params protocol.RunParams, logger *log.Logger) *Server {
	return &Server{
		run:    run,
		params: params,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		resp := protocol.BootstrapResponse{
			ProtocolVersion: protocol.Version,
			RunID:           s.run.Config().RunID,
			Cycle:           s.run.CurrentCycle(),
			Params:          s.params,
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(rw http.ResponseWriter, status int, code, msg string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(errorBody{Code: code, Message: msg})
}

// RemoveHandler serves POST /admin/v1/agents/remove?id=N; the agent leaves
// at the next cycle boundary.
func (s *Server) RemoveHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			writeError(rw, http.StatusForbidden, protocol.ErrForbidden, "loopback only")
			return
		}
		id, err := strconv.Atoi(r.URL.Query().Get("id"))
		if err != nil || id <= 0 {
			writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "id must be a positive agent id")
			return
		}
		if err := s.run.RemoveAgent(knowledge.ID(id)); err != nil {
			if errors.Is(err, cycle.ErrLeaveQueueFull) {
				writeError(rw, http.StatusServiceUnavailable, protocol.ErrBusy, err.Error())
				return
			}
			writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
			return
		}
		s.log.Printf("agent %d queued to leave", id)
		rw.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, code := parseSubscribe(msg)
		if code != "" {
			reason := code + ": expected SUBSCRIBE"
			if code == protocol.ErrProtoVersion {
				reason = code + ": protocol_version must be " + protocol.Version
			}
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		out := make(chan []byte, 4)
		s.run.Subscribe(sid, out, sub)
		defer s.run.Unsubscribe(sid)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: a later SUBSCRIBE replaces the filter.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if sub, code := parseSubscribe(msg); code == "" {
				s.run.Subscribe(sid, out, sub)
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// parseSubscribe returns the requested subscription, or the error code
// explaining why b is not an acceptable SUBSCRIBE.
func parseSubscribe(b []byte) (cycle.Subscription, string) {
	var m protocol.SubscribeMsg
	if err := json.Unmarshal(b, &m); err != nil || m.Type != protocol.TypeSubscribe {
		return cycle.Subscription{}, protocol.ErrProtoBadRequest
	}
	if m.ProtocolVersion != protocol.Version {
		return cycle.Subscription{}, protocol.ErrProtoVersion
	}
	normalizeSubscribe(&m)
	return cycle.Subscription{IncludeEvents: m.IncludeEvents, EveryN: m.EveryN}, ""
}

func normalizeSubscribe(sub *protocol.SubscribeMsg) {
	if sub.EveryN <= 0 {
		sub.EveryN = 1
	}
	if sub.EveryN > 1000 {
		sub.EveryN = 1000
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
