package proto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/mchat/internal/core"
)

func TestSubscribeReplyCarriesBacklog(t *testing.T) {
	reply := &SubscribeReply{
		OK: true,
		Backlog: []core.Message{
			{ID: 5, Type: core.MessageText, Timestamp: 1700000000, Body: "hi", Sender: "alice"},
			{ID: 6, Type: core.MessageImage, Timestamp: 1700000001, Body: "cat.png", Sender: "bob", Payload: core.NewPayload([]byte{1, 2, 3})},
			{ID: 7, Type: core.MessageFile, Timestamp: 1700000002, Body: "big.bin", Sender: "bob", Payload: core.NewPayload([]byte{9})},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).WriteServer(ServerSubscribe, reply))

	dec := NewDecoder(&buf)
	cmd, err := dec.ReadServerCommand()
	require.NoError(t, err)
	require.Equal(t, ServerSubscribe, cmd)

	var got SubscribeReply
	require.NoError(t, got.DecodeFrom(dec))
	require.True(t, got.OK)
	require.Len(t, got.Backlog, 3)
	require.Equal(t, "hi", got.Backlog[0].Body)
	require.True(t, got.Backlog[1].Payload.Equal(core.NewPayload([]byte{1, 2, 3})))
	// File payloads are fetched on demand, never inlined.
	require.True(t, got.Backlog[2].Payload.Empty())
	require.EqualValues(t, 7, got.Backlog[2].ID)
}

func TestFailedSubscribeReplyHasNoBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&SubscribeReply{OK: false}).EncodeTo(NewEncoder(&buf)))
	require.Equal(t, []byte{0}, buf.Bytes())
}

func TestPostWithOversizePayload(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	post := &Post{Type: core.MessageImage, Body: "huge.png", Payload: core.NewPayload(make([]byte, core.MaxImageBytes+1))}
	require.NoError(t, post.EncodeTo(enc))
	require.NoError(t, enc.WriteU8(uint8(ClientHeartbeat)))

	dec := NewDecoder(&buf)
	var got Post
	require.NoError(t, got.DecodeFrom(dec))
	require.True(t, got.Oversize)
	require.True(t, got.Payload.Empty())

	cmd, err := dec.ReadClientCommand()
	require.NoError(t, err)
	require.Equal(t, ClientHeartbeat, cmd)
}

func TestPostWithIllegalType(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.WriteU8(9))
	require.NoError(t, enc.WriteString("x"))
	require.NoError(t, enc.WriteBytes(nil))

	var got Post
	require.ErrorIs(t, got.DecodeFrom(NewDecoder(&buf)), ErrProtocolViolation)
}

func TestReceiptRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   Receipt
	}{
		{name: "accepted", in: Receipt{OK: true, ID: 42, Timestamp: 1700000000}},
		{name: "rejected", in: Receipt{OK: false, Code: core.ErrCodeTooLarge, Reason: "image exceeds 6291456 bytes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, tt.in.EncodeTo(NewEncoder(&buf)))

			var got Receipt
			require.NoError(t, got.DecodeFrom(NewDecoder(&buf)))
			require.Equal(t, tt.in, got)
			if !got.OK {
				require.ErrorIs(t, got.Err(), &core.CoreError{Code: core.ErrCodeTooLarge})
			}
		})
	}
}

func TestChatListAndIntroduce(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	chats := []core.Chat{{ID: 1, Name: "general", Creator: "server", Description: "default"}, {ID: 2, Name: "dev"}}
	require.NoError(t, (&ChatList{Chats: chats}).EncodeTo(enc))
	require.NoError(t, (&IntroduceReply{Name: "Alice (2)", ServerID: "srv"}).EncodeTo(enc))
	require.NoError(t, (&FileReply{ID: 3, OK: true, Payload: core.NewPayload([]byte("data"))}).EncodeTo(enc))

	dec := NewDecoder(&buf)
	var list ChatList
	require.NoError(t, list.DecodeFrom(dec))
	require.Equal(t, chats, list.Chats)

	var intro IntroduceReply
	require.NoError(t, intro.DecodeFrom(dec))
	require.Equal(t, IntroduceReply{Name: "Alice (2)", ServerID: "srv"}, intro)

	var file FileReply
	require.NoError(t, file.DecodeFrom(dec))
	require.True(t, file.OK)
	require.Equal(t, []byte("data"), file.Payload.Bytes())
}
