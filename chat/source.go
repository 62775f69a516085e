package chat

import "context"

// Source is the remote system a conversation is mirrored from. The Google
// Chat API client implements it over HTTP; mailsource implements it over
// IMAP. Every method blocks only on the remote call and honors the context
// deadline.
type Source interface {
	// GetConversation fetches the space/thread metadata for convRef.
	GetConversation(ctx context.Context, convRef string) (*RawConversation, error)

	// ListMessages returns one page of messages for convRef in listing order
	// plus the token for the next page, empty when exhausted.
	ListMessages(ctx context.Context, convRef, pageToken string) ([]RawMessage, string, error)

	// GetMessage fetches the full payload of one message.
	GetMessage(ctx context.Context, messageRef string) (*RawMessage, error)

	// FetchBytes downloads attachment bytes for ref and returns them with the
	// content type the remote declared.
	FetchBytes(ctx context.Context, ref SourceRef) ([]byte, string, error)

	// ResolveIdentity looks the sender identifier up in the remote directory.
	// Returns ErrNotFound when the directory has no record.
	ResolveIdentity(ctx context.Context, senderID string) (*RawIdentity, error)
}
