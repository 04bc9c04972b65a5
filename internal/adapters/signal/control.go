package signal

import (
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/dkeye/VoiceCall/internal/wire"
)

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.sendFrame(conn, wire.Frame{Type: wire.FramePong})
}

func (ctl *SignalWSController) handleWhoAmI(user domain.UserID, conn *WsSignalConn) {
	ctl.sendFrame(conn, wire.Frame{Type: wire.FrameHello, User: user})
}
