package receiver

import "io"

// recvToken reads one token of the delta stream: token == 0 means end of
// file, token > 0 means token bytes of literal data follow (also
// returned), and token < 0 means "copy block -(token+1) from the basis
// file" (data is nil).
func (rt *Transfer) recvToken() (int32, []byte, error) {
	token, err := rt.Conn.ReadInt32()
	if err != nil {
		return 0, nil, err
	}
	if token <= 0 {
		return token, nil, nil
	}
	data := make([]byte, token)
	if _, err := io.ReadFull(rt.Conn.Reader, data); err != nil {
		return 0, nil, err
	}
	return token, data, nil
}
