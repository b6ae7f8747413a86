package transport

// SubscribeSocket is the client side of pub/sub: a dialed connection to a
// PublishSocket. It does no topic filtering itself; Recv returns every frame
// sequence the publisher sends, and session.PublishSession matches the topic
// frame (produced by pkg/wire.EncodePublish) against its prefix.
type SubscribeSocket struct {
	conn *Conn
}

// DialSubscribe connects to a publisher at address.
func DialSubscribe(address string) (*SubscribeSocket, error) {
	conn, err := Dial(address)
	if err != nil {
		return nil, err
	}
	return &SubscribeSocket{conn: conn}, nil
}

// Recv blocks for the next publish frame sequence.
func (s *SubscribeSocket) Recv() ([][]byte, error) {
	return s.conn.RecvFrames()
}

// Close closes the subscriber connection.
func (s *SubscribeSocket) Close() error {
	return s.conn.Close()
}
