package fetch

import "strconv"

var statusDescriptions = map[int]string{
	400: "Bad request. The request cannot be fulfilled due to bad syntax.",
	401: "Unauthorized. The server is refusing to respond.",
	403: "Forbidden. The server is refusing to respond.",
	404: "Not Found. The requested location could not be found.",
	405: "Method not allowed. A request was made using a request method not supported by that location.",
	406: "Not Acceptable. The server can only generate a response that is not accepted by the client.",
	407: "Proxy Authentication Required. The client must first authenticate itself with the proxy.",
	408: "Request Timeout. The server timed out waiting for the request.",
	409: "Conflict. The request could not be completed because of a conflict in the request.",
	410: "Gone. The requested page is no longer available.",
	411: "Length Required. The \"Content-Length\" is not defined.",
	412: "Precondition Failed. The precondition given in the request evaluated to false by the server.",
	413: "Request Entity Too Large. The server will not accept the request, because the request entity is too large.",
	414: "Request-URI Too Long. The server will not accept the request, because the URL is too long.",
	415: "Unsupported Media Type. The server will not accept the request, because the media type is not supported.",
	500: "Internal Server Error.",
	501: "Not Implemented. The server either does not recognize the request method, or it lacks the ability to fulfill the request.",
	503: "Service Unavailable. The server is currently unavailable (overloaded or down).",
}

// StatusDescription returns a human readable description of an HTTP error
// status, or "" for codes below 400.
func StatusDescription(code int) string {
	if code < 400 {
		return ""
	}
	if d, ok := statusDescriptions[code]; ok {
		return d
	}
	return "HTTP status code " + strconv.Itoa(code)
}
