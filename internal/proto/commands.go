package proto

import "fmt"

// ClientCommand tags every message sent from a client to the server.
type ClientCommand uint8

const (
	// ClientIntroduce proposes a display name.
	ClientIntroduce ClientCommand = iota
	// ClientListChats requests the chat directory.
	ClientListChats
	// ClientNewChat creates a chat.
	ClientNewChat
	// ClientSubscribe switches the connection to a chat and requests catch-up.
	ClientSubscribe
	// ClientMessage posts a message to the subscribed chat.
	ClientMessage
	// ClientGetFile fetches a payload from the subscribed chat.
	ClientGetFile
	// ClientHeartbeat keeps the connection alive.
	ClientHeartbeat
)

// ServerCommand tags every message sent from the server to a client.
type ServerCommand uint8

const (
	ServerIntroduce ServerCommand = iota
	ServerListChats
	ServerNewChat
	ServerSubscribe
	// ServerMessage is a live broadcast.
	ServerMessage
	// ServerMessageReceipt answers a ClientMessage.
	ServerMessageReceipt
	// ServerSendFile answers a ClientGetFile.
	ServerSendFile
	ServerHeartbeat
)

// Valid reports whether c is a known client command.
func (c ClientCommand) Valid() bool { return c <= ClientHeartbeat }

// Valid reports whether c is a known server command.
func (c ServerCommand) Valid() bool { return c <= ServerHeartbeat }

func (c ClientCommand) String() string {
	switch c {
	case ClientIntroduce:
		return "INTRODUCE"
	case ClientListChats:
		return "LIST_CHATS"
	case ClientNewChat:
		return "NEW_CHAT"
	case ClientSubscribe:
		return "SUBSCRIBE"
	case ClientMessage:
		return "MESSAGE"
	case ClientGetFile:
		return "GET_FILE"
	case ClientHeartbeat:
		return "HEARTBEAT"
	default:
		return fmt.Sprintf("CLIENT_COMMAND(%d)", uint8(c))
	}
}

func (c ServerCommand) String() string {
	switch c {
	case ServerIntroduce:
		return "INTRODUCE"
	case ServerListChats:
		return "LIST_CHATS"
	case ServerNewChat:
		return "NEW_CHAT"
	case ServerSubscribe:
		return "SUBSCRIBE"
	case ServerMessage:
		return "MESSAGE"
	case ServerMessageReceipt:
		return "MESSAGE_RECEIPT"
	case ServerSendFile:
		return "SEND_FILE"
	case ServerHeartbeat:
		return "HEARTBEAT"
	default:
		return fmt.Sprintf("SERVER_COMMAND(%d)", uint8(c))
	}
}

// ReadClientCommand reads and validates a client command tag.
func (d *Decoder) ReadClientCommand() (ClientCommand, error) {
	v, err := d.ReadU8()
	if err != nil {
		return 0, err
	}
	cmd := ClientCommand(v)
	if !cmd.Valid() {
		return cmd, fmt.Errorf("%w: illegal client command %d", ErrProtocolViolation, v)
	}
	return cmd, nil
}

// ReadServerCommand reads and validates a server command tag.
func (d *Decoder) ReadServerCommand() (ServerCommand, error) {
	v, err := d.ReadU8()
	if err != nil {
		return 0, err
	}
	cmd := ServerCommand(v)
	if !cmd.Valid() {
		return cmd, fmt.Errorf("%w: illegal server command %d", ErrProtocolViolation, v)
	}
	return cmd, nil
}
