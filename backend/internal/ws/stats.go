package ws

import (
	"fmt"
	"io"
	"sync/atomic"
)

// Stats 进程级计数器，由 Hub 持有；只能通过 Reset 清零
type Stats struct {
	ConnectionsAccepted atomic.Int64
	MessagesRelayed     atomic.Int64
}

func (s *Stats) Reset() {
	s.ConnectionsAccepted.Store(0)
	s.MessagesRelayed.Store(0)
}

// StatsSnapshot 某一时刻的计数与房间/连接数
type StatsSnapshot struct {
	ConnectionsAccepted int64 `json:"connectionsAccepted"`
	MessagesRelayed     int64 `json:"messagesRelayed"`
	RoomsActive         int   `json:"roomsActive"`
	ConnectionsActive   int   `json:"connectionsActive"`
}

// WriteText 输出 "<name> <value>" 文本行
func (s StatsSnapshot) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w,
		"connections_accepted_total %d\nmessages_relayed_total %d\nrooms_active %d\nconnections_active %d\n",
		s.ConnectionsAccepted, s.MessagesRelayed, s.RoomsActive, s.ConnectionsActive)
	return err
}
