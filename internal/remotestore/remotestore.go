// Package remotestore speaks WebDAV against a Nextcloud instance,
// implementing the Remote Tag Store contract of spec.md §4.C:
// enumerating files, system tags and file/tag relations, and creating
// or mutating those relations. Grounded on the teacher's
// backend/webdav/webdav.go (PROPFIND-over-rest.Client idiom) and its
// backend/webdav/api package (XML shapes), adapted from a generic file
// storage backend down to the two Nextcloud systemtags endpoints this
// spec actually needs.
package remotestore

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/ede1998/nextcloud-tag-sync/internal/remotestore/api"
	"github.com/ede1998/nextcloud-tag-sync/internal/retry"
	"github.com/ede1998/nextcloud-tag-sync/internal/tagerr"
	"github.com/ede1998/nextcloud-tag-sync/internal/tagmodel"
)

const (
	systemTagsPath          = "/remote.php/dav/systemtags"
	systemTagsRelationsPath = "/remote.php/dav/systemtags-relations/files"
)

// maxTagCreateAttempts bounds the rebuild-and-retry loop in EnsureTag
// so a tag that keeps losing the creation race (or gets renamed
// between create and rebuild) fails the one file instead of looping
// forever.
const maxTagCreateAttempts = 3

// errTagConflict signals a 409 from createTag: some other goroutine
// (in this process or another) created the tag first. It never
// escapes EnsureTag — it is always caught and resolved by rebuilding
// the TagIndex, per spec.md §4.C op 4.
var errTagConflict = errors.New("tag already exists")

// FileEntry is one non-collection resource found under a remote
// prefix.
type FileEntry struct {
	Path   string // percent-decoded remote path
	FileID string
}

// Store implements the Remote Tag Store.
type Store struct {
	baseURL    *url.URL
	user       string
	token      string
	httpClient *http.Client
	policy     *retry.Policy
	log        *logrus.Entry

	createSF singleflight.Group
}

// New builds a Store talking to instanceURL with HTTP Basic auth.
func New(instanceURL, user, token string, timeout time.Duration, log *logrus.Entry) (*Store, error) {
	u, err := url.Parse(instanceURL)
	if err != nil {
		return nil, tagerr.Wrap(err, tagerr.KindConfig, "parse nextcloud_instance")
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Store{
		baseURL: u,
		user:    user,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		policy: retry.DefaultPolicy(),
		log:    log,
	}, nil
}

// do executes a single HTTP request with Basic auth. Transport
// failures are wrapped as KindNetworkTimeout; the response status is
// not inspected here (doRetrying and createTag classify it).
func (s *Store) do(ctx context.Context, method, path string, headers map[string]string, body io.Reader) (*http.Response, error) {
	full := *s.baseURL
	full.Path = path
	req, err := http.NewRequestWithContext(ctx, method, full.String(), body)
	if err != nil {
		return nil, tagerr.Wrap(err, tagerr.KindNetworkStatus, "build request").WithPath(path)
	}
	req.SetBasicAuth(s.user, s.token)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, tagerr.Wrap(ctx.Err(), tagerr.KindNetworkTimeout, "request cancelled").WithPath(path)
		}
		return nil, tagerr.Wrap(err, tagerr.KindNetworkTimeout, "request failed").WithPath(path)
	}
	return resp, nil
}

// doRetrying wraps do in the bounded-backoff policy for Transient
// failures, draining and closing the body of any response it
// ultimately discards.
func (s *Store) doRetrying(ctx context.Context, method, path string, headers map[string]string, bodyFn func() io.Reader) (*http.Response, error) {
	var result *http.Response
	err := s.policy.Do(ctx, func() error {
		var body io.Reader
		if bodyFn != nil {
			body = bodyFn()
		}
		resp, err := s.do(ctx, method, path, headers, body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 300 {
			kind := retry.ClassifyStatus(resp.StatusCode)
			apiErr := decodeAPIError(resp)
			_ = resp.Body.Close()
			return tagerr.Wrap(apiErr, kind, fmt.Sprintf("http %d", resp.StatusCode)).WithPath(path)
		}
		result = resp
		return nil
	})
	return result, err
}

func decodeAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)
	var apiErr api.Error
	if xml.Unmarshal(data, &apiErr) == nil && (apiErr.Message != "" || apiErr.Exception != "") {
		apiErr.StatusCode = resp.StatusCode
		return &apiErr
	}
	return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
}

const propfindFilesBody = `<?xml version="1.0" encoding="utf-8" ?>
<d:propfind xmlns:d="DAV:" xmlns:oc="http://owncloud.org/ns">
  <d:prop>
    <d:resourcetype/>
    <oc:id/>
    <oc:fileid/>
  </d:prop>
</d:propfind>`

// ListFiles enumerates non-collection resources under remotePrefix
// with a Depth: infinity PROPFIND, invoking yield for each. Paths are
// percent-decoded before being passed to yield.
func (s *Store) ListFiles(ctx context.Context, remotePrefix string, yield func(FileEntry) error) error {
	resp, err := s.doRetrying(ctx, "PROPFIND", remotePrefix, map[string]string{
		"Depth":        "infinity",
		"Content-Type": "application/xml",
	}, func() io.Reader { return bytes.NewBufferString(propfindFilesBody) })
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var ms api.Multistatus
	if err := xml.NewDecoder(resp.Body).Decode(&ms); err != nil {
		return tagerr.Wrap(err, tagerr.KindParse, "decode PROPFIND response").WithPath(remotePrefix)
	}
	for _, r := range ms.Responses {
		if r.Props.IsCollection() {
			continue
		}
		decoded, err := url.PathUnescape(r.Href)
		if err != nil {
			decoded = r.Href
		}
		fileID := r.Props.FileID
		if fileID == "" {
			fileID = r.Props.ID
		}
		if err := yield(FileEntry{Path: decoded, FileID: fileID}); err != nil {
			return err
		}
	}
	return nil
}

const propfindTagsBody = `<?xml version="1.0" encoding="utf-8" ?>
<d:propfind xmlns:d="DAV:" xmlns:oc="http://owncloud.org/ns">
  <d:prop>
    <oc:id/>
    <oc:display-name/>
    <oc:user-visible/>
    <oc:user-assignable/>
  </d:prop>
</d:propfind>`

// ListSystemTags builds a fresh TagIndex from the server, including
// only tags that are both user-visible and user-assignable (spec.md
// §4.C op 2 / §9 open question).
func (s *Store) ListSystemTags(ctx context.Context) (*TagIndex, error) {
	resp, err := s.doRetrying(ctx, "PROPFIND", systemTagsPath, map[string]string{
		"Depth":        "1",
		"Content-Type": "application/xml",
	}, func() io.Reader { return bytes.NewBufferString(propfindTagsBody) })
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var ms api.Multistatus
	if err := xml.NewDecoder(resp.Body).Decode(&ms); err != nil {
		return nil, tagerr.Wrap(err, tagerr.KindParse, "decode systemtags response")
	}
	idx := NewTagIndex()
	for _, r := range ms.Responses {
		if !r.Props.StatusOK() {
			continue
		}
		if !api.Bool(r.Props.UserVisible) || !api.Bool(r.Props.UserAssignable) {
			continue
		}
		name := tagmodel.Tag(r.Props.DisplayName)
		if !name.Valid() || r.Props.ID == "" {
			continue
		}
		idx.Put(name, r.Props.ID)
	}
	return idx, nil
}

// ListFileTags returns the TagSet currently attached to fileID.
func (s *Store) ListFileTags(ctx context.Context, fileID string, idx *TagIndex) (tagmodel.TagSet, error) {
	path := fmt.Sprintf("%s/%s", systemTagsRelationsPath, fileID)
	resp, err := s.doRetrying(ctx, "PROPFIND", path, map[string]string{
		"Depth":        "1",
		"Content-Type": "application/xml",
	}, func() io.Reader { return bytes.NewBufferString(propfindTagsBody) })
	if err != nil {
		if tErr, ok := err.(*tagerr.Error); ok && tErr.Kind == tagerr.KindNetworkStatus {
			return tagmodel.TagSet{}, nil // file disappeared; caller treats as absent
		}
		return nil, err
	}
	defer resp.Body.Close()
	var ms api.Multistatus
	if err := xml.NewDecoder(resp.Body).Decode(&ms); err != nil {
		return nil, tagerr.Wrap(err, tagerr.KindParse, "decode tag relations").WithPath(fileID)
	}
	out := tagmodel.TagSet{}
	for _, r := range ms.Responses {
		if !r.Props.StatusOK() || r.Props.ID == "" {
			continue
		}
		if name, ok := idx.Name(r.Props.ID); ok {
			out[name] = struct{}{}
		}
	}
	return out, nil
}

// EnsureTag returns the id for tag, creating it on the server if it
// is missing from idx. Concurrent calls for the same tag collapse into
// one in-flight creation via singleflight (the tag-creation fence of
// spec.md §4.F/§5). On a 409 from the server, it rebuilds idx from
// ListSystemTags and retries the lookup before giving up, per spec.md
// §4.C op 4.
func (s *Store) EnsureTag(ctx context.Context, idx *TagIndex, tag tagmodel.Tag) (string, error) {
	if !tag.Valid() {
		return "", tagerr.New(tagerr.KindTagValidation, "invalid tag name").WithPath(string(tag))
	}
	if id, ok := idx.Lookup(tag); ok {
		return id, nil
	}
	v, err, _ := s.createSF.Do(string(tag), func() (interface{}, error) {
		// Re-check under the fence: another goroutine may have
		// created it while we queued.
		if id, ok := idx.Lookup(tag); ok {
			return id, nil
		}
		for attempt := 0; attempt < maxTagCreateAttempts; attempt++ {
			id, err := s.createTag(ctx, tag)
			if err == nil {
				idx.Put(tag, id)
				return id, nil
			}
			if !errors.Is(err, errTagConflict) {
				return nil, err
			}
			fresh, rebuildErr := s.ListSystemTags(ctx)
			if rebuildErr != nil {
				return nil, rebuildErr
			}
			idx.Reset(fresh.Entries())
			if id, ok := idx.Lookup(tag); ok {
				return id, nil
			}
			// Lost the race again, or the tag isn't
			// user-visible/-assignable yet: retry the create.
		}
		return nil, tagerr.New(tagerr.KindTagConflict, "tag creation kept conflicting after rebuild").WithPath(string(tag))
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *Store) createTag(ctx context.Context, tag tagmodel.Tag) (string, error) {
	body, err := json.Marshal(api.TagCreateRequest{
		Name:           string(tag),
		UserVisible:    true,
		UserAssignable: true,
		CanAssign:      true,
	})
	if err != nil {
		return "", tagerr.Wrap(err, tagerr.KindParse, "marshal tag create request")
	}
	resp, err := s.do(ctx, http.MethodPost, systemTagsPath, map[string]string{
		"Content-Type": "application/json",
	}, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusCreated:
		if id := resp.Header.Get("OC-Id"); id != "" {
			return id, nil
		}
		loc := resp.Header.Get("Content-Location")
		if loc == "" {
			loc = resp.Header.Get("Location")
		}
		id := loc[strings.LastIndex(loc, "/")+1:]
		if id == "" {
			return "", tagerr.New(tagerr.KindParse, "tag created but no id returned").WithPath(string(tag))
		}
		return id, nil
	case http.StatusConflict:
		return "", errTagConflict
	default:
		kind := retry.ClassifyStatus(resp.StatusCode)
		return "", tagerr.Wrap(decodeAPIError(resp), kind, fmt.Sprintf("create tag http %d", resp.StatusCode)).WithPath(string(tag))
	}
}

// AttachTag attaches tagID to fileID.
func (s *Store) AttachTag(ctx context.Context, fileID, tagID string) error {
	path := fmt.Sprintf("%s/%s/%s", systemTagsRelationsPath, fileID, tagID)
	resp, err := s.doRetrying(ctx, http.MethodPut, path, nil, nil)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// DetachTag detaches tagID from fileID.
func (s *Store) DetachTag(ctx context.Context, fileID, tagID string) error {
	path := fmt.Sprintf("%s/%s/%s", systemTagsRelationsPath, fileID, tagID)
	resp, err := s.doRetrying(ctx, http.MethodDelete, path, nil, nil)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}
