// Package api holds the WebDAV/Nextcloud wire types: the XML shapes
// returned by PROPFIND against files and against systemtags, and the
// JSON body used to create a new system tag. Grounded on the
// teacher's backend/webdav/api package.
package api

import (
	"encoding/xml"
	"regexp"
	"strconv"
)

// Multistatus is the top-level envelope of a 207 Multi-Status
// response.
type Multistatus struct {
	Responses []Response `xml:"response"`
}

// Response is one resource entry within a Multistatus.
type Response struct {
	Href  string `xml:"href"`
	Props Prop   `xml:"propstat>prop"`
}

// Prop carries the subset of DAV/oc properties this client asks for.
type Prop struct {
	Status         []string  `xml:"status"`
	ResourceType   *xml.Name `xml:"resourcetype>collection"`
	ID             string    `xml:"id"`
	FileID         string    `xml:"fileid"`
	DisplayName    string    `xml:"display-name"`
	UserVisible    string    `xml:"user-visible"`
	UserAssignable string    `xml:"user-assignable"`
}

// IsCollection reports whether the response describes a directory
// rather than a plain file.
func (p *Prop) IsCollection() bool {
	return p.ResourceType != nil
}

var trueish = regexp.MustCompile(`^(?i:true|1)$`)

// Bool interprets a DAV boolean property, which Nextcloud renders as
// the literal strings "true"/"false" or "1"/"0" depending on
// endpoint.
func Bool(s string) bool {
	return trueish.MatchString(s)
}

// StatusOK reports whether the first status line in Prop.Status, if
// any, is a 2xx.
func (p *Prop) StatusOK() bool {
	if len(p.Status) == 0 {
		return true
	}
	return parseStatusCode(p.Status[0])/100 == 2
}

var statusLine = regexp.MustCompile(`^HTTP/[0-9.]+\s+(\d+)`)

func parseStatusCode(line string) int {
	m := statusLine.FindStringSubmatch(line)
	if len(m) < 2 {
		return 0
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return code
}

// TagCreateRequest is the JSON body POSTed to create a system tag.
type TagCreateRequest struct {
	Name           string `json:"name"`
	UserVisible    bool   `json:"userVisible"`
	UserAssignable bool   `json:"userAssignable"`
	CanAssign      bool   `json:"canAssign"`
}

// Error describes a WebDAV error response body.
//
//	<d:error xmlns:d="DAV:" xmlns:s="http://sabredav.org/ns">
//	  <s:exception>Sabre\DAV\Exception\NotFound</s:exception>
//	  <s:message>File with name Photo could not be located</s:message>
//	</d:error>
type Error struct {
	Exception  string `xml:"exception"`
	Message    string `xml:"message"`
	StatusCode int    `xml:"-"`
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Exception != "" {
		return e.Exception
	}
	return "webdav error"
}
