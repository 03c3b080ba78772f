package http

type ErrResponse struct {
	Code    int               `json:"error_code"`
	Message string            `json:"error_message"`
	Details map[string]string `json:"details,omitempty"`
}

func (e ErrResponse) Error() string {
	return e.Message
}

var ErrResponseBookEntryInvalid = ErrResponse{Code: 100, Message: "the book entry is invalid"}
var ErrResponseBookNotFound = ErrResponse{Code: 101, Message: "book not found"}
var ErrResponseEntryInvalidJSON = ErrResponse{Code: 102, Message: "invalid json request: "}
var ErrResponseIdInvalidFormat = ErrResponse{Code: 103, Message: "the endpoint is not a valid format ID. Must be /api/v1/books/{uuid}"}
var ErrResponseQueryYearInvalid = ErrResponse{Code: 104, Message: "query parameter 'year' must be an integer"}
var ErrResponseQueryAvailableInvalid = ErrResponse{Code: 105, Message: "query parameter 'available' must be true or false"}
var ErrResponseQueryPageInvalid = ErrResponse{Code: 106, Message: "query parameter 'page' must be an int starting in 1. 'page_size' must be an int between 1 and 100."}
var ErrResponseISBNConflict = ErrResponse{Code: 108, Message: "a book with this isbn already exists"}
var ErrResponseRequestTimeout = ErrResponse{Code: 109, Message: "context deadline exceeded"}
var ErrResponseInternal = ErrResponse{Code: 110, Message: "internal server error"}
var ErrResponseStorageUnavailable = ErrResponse{Code: 111, Message: "storage unavailable"}
