// Command loadtest drives pairs of websocket sessions against a running server.
// Each pair registers two users and exchanges direct messages, waiting for every ack.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"go-dm/internal/chat"
	"go-dm/internal/logger"
)

type inbound struct {
	Event string          `json:"event"`
	Ack   *int64          `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data"`
}

type reply struct {
	Success bool   `json:"success"`
	UserID  int64  `json:"userId"`
	Error   string `json:"error"`
}

type session struct {
	conn *websocket.Conn
	next int64
}

type stats struct {
	sent   atomic.Int64
	failed atomic.Int64
}

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "websocket endpoint")
	pairs := flag.Int("pairs", 50, "number of user pairs")
	msgs := flag.Int("msgs", 20, "messages per user")
	flag.Parse()

	log := logger.New(logger.Config{Level: "info", Pretty: true})
	log.Info().Int("users", *pairs*2).Int("msgs", *msgs).Msg("loadtest.starting")

	var (
		wg  sync.WaitGroup
		st  stats
		run = fmt.Sprintf("%d", time.Now().UnixNano())
	)
	start := time.Now()
	for i := 0; i < *pairs; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(log, *url, run, pairID, *msgs, &st)
		}(i)
	}
	wg.Wait()

	elapsed := time.Since(start)
	log.Info().
		Int64("sent", st.sent.Load()).
		Int64("failed", st.failed.Load()).
		Dur("elapsed", elapsed).
		Float64("msgs_per_sec", float64(st.sent.Load())/elapsed.Seconds()).
		Msg("loadtest.complete")
	if st.failed.Load() > 0 {
		os.Exit(1)
	}
}

func runPair(log zerolog.Logger, url, run string, pairID, msgs int, st *stats) {
	nameA := fmt.Sprintf("lt_%s_%d_a", run, pairID)
	nameB := fmt.Sprintf("lt_%s_%d_b", run, pairID)

	a, idA, err := connect(url, nameA)
	if err != nil {
		log.Error().Err(err).Str("user", nameA).Msg("connect.failed")
		st.failed.Add(int64(msgs * 2))
		return
	}
	defer a.conn.Close()
	b, idB, err := connect(url, nameB)
	if err != nil {
		log.Error().Err(err).Str("user", nameB).Msg("connect.failed")
		st.failed.Add(int64(msgs * 2))
		return
	}
	defer b.conn.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		chatter(log, a, idA, nameB, msgs, st)
	}()
	go func() {
		defer wg.Done()
		chatter(log, b, idB, nameA, msgs, st)
	}()
	wg.Wait()
}

func connect(url, name string) (*session, int64, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, 0, err
	}
	s := &session{conn: conn}
	res, err := s.call(chat.InCheckUser, name)
	if err != nil {
		_ = conn.Close()
		return nil, 0, err
	}
	if !res.Success {
		_ = conn.Close()
		return nil, 0, fmt.Errorf("checkUser %q: %s", name, res.Error)
	}
	return s, res.UserID, nil
}

func chatter(log zerolog.Logger, s *session, senderID int64, peer string, msgs int, st *stats) {
	for i := 0; i < msgs; i++ {
		res, err := s.call(chat.InSendMessage, map[string]any{
			"senderid":     senderID,
			"receiverName": peer,
			"message":      fmt.Sprintf("loadtest msg %d", i),
		})
		// A successful send acks with the stored message, a failed one with {success:false, error}.
		if err != nil || res.Error != "" {
			st.failed.Add(1)
			log.Warn().Err(err).Str("error", res.Error).Int64("sender", senderID).Msg("send.failed")
			if err != nil {
				return
			}
			continue
		}
		st.sent.Add(1)
		// Simulates client think time so localhost is not the only bottleneck.
		time.Sleep(10 * time.Millisecond)
	}
}

// call sends one event and reads frames until the matching ack arrives.
// Broadcast frames received in between are discarded.
func (s *session) call(event string, data any) (reply, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return reply{}, err
	}
	s.next++
	id := s.next
	if err := s.conn.WriteJSON(chat.Envelope{Event: event, Ack: &id, Data: raw}); err != nil {
		return reply{}, err
	}

	_ = s.conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		var in inbound
		if err := s.conn.ReadJSON(&in); err != nil {
			return reply{}, err
		}
		if in.Event != chat.EventAck || in.Ack == nil || *in.Ack != id {
			continue
		}
		var res reply
		if err := json.Unmarshal(in.Data, &res); err != nil {
			return reply{}, err
		}
		return res, nil
	}
}
