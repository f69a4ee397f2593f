package errcode

const (
	ErrUnknown = 10000000 + iota
	ErrNotFound
	ErrInvalid
	ErrTooMany
	ErrInternal
	ErrInvalidFile
	ErrFileTooLarge
	ErrUnsupportedFileType
	ErrEmptyQuery
	ErrEmptyContent
	ErrUploadFailed
	ErrAIUnavailable
	ErrEmbeddingFailed
	ErrGenerationFailed
	ErrStoreFailed
	ErrQueryFailed
)
