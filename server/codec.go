package server

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"

	"swarmrover/config"
)

// cbor 编码器：确定性编码，同一消息总是得到相同字节
var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("server: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("server: CBOR decoder initialization failed: " + err.Error())
	}
}

// frame 待写出的一帧
type frame struct {
	kind int // websocket.TextMessage / websocket.BinaryMessage
	data []byte
}

// encodeMessage 按连接的编码方式编码：json 走文本帧，cbor 走二进制帧
func encodeMessage(codec string, m Message) (frame, error) {
	switch codec {
	case config.CodecCBOR:
		b, err := cborEnc.Marshal(m)
		if err != nil {
			return frame{}, fmt.Errorf("server: encode cbor: %w", err)
		}
		return frame{kind: websocket.BinaryMessage, data: b}, nil
	default:
		b, err := json.Marshal(m)
		if err != nil {
			return frame{}, fmt.Errorf("server: encode json: %w", err)
		}
		return frame{kind: websocket.TextMessage, data: b}, nil
	}
}

// decodeMessage 按帧类型解码，与对端声明的编码无关
func decodeMessage(kind int, payload []byte) (Message, error) {
	var m Message
	switch kind {
	case websocket.BinaryMessage:
		if err := cborDec.Unmarshal(payload, &m); err != nil {
			return Message{}, fmt.Errorf("server: decode cbor: %w", err)
		}
	case websocket.TextMessage:
		if err := json.Unmarshal(payload, &m); err != nil {
			return Message{}, fmt.Errorf("server: decode json: %w", err)
		}
	default:
		return Message{}, fmt.Errorf("server: unsupported frame type %d", kind)
	}
	return m, nil
}
