package evloop

import (
	"bytes"
	"mime/multipart"
	"net"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"

	"github.com/IntelLabs/vdms-go/cmn"
	"github.com/IntelLabs/vdms-go/internal/media/common"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RemoteClient wraps one fasthttp.Client shared by a loop's remote
// worker; fasthttp's internal connection pooling supplies the request
// multiplexing, so the remote worker never spawns extra threads for
// parallelism.
type RemoteClient struct {
	client *fasthttp.Client
}

// NewRemoteClient builds the client with the externally-configured
// connect and overall timeouts.
func NewRemoteClient(connectTimeout, overallTimeout time.Duration) *RemoteClient {
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	if overallTimeout <= 0 {
		overallTimeout = 60 * time.Second
	}
	return &RemoteClient{
		client: &fasthttp.Client{
			ReadTimeout:         overallTimeout,
			WriteTimeout:        overallTimeout,
			MaxConnWaitTimeout:  connectTimeout,
			MaxConnsPerHost:     RemoteParallelism,
			Dial: func(addr string) (net.Conn, error) {
				return fasthttp.DialTimeout(addr, connectTimeout)
			},
		},
	}
}

// Post performs the remote-operation multipart POST: field `imageData`
// carries the media file at its current format, `jsonData` the options
// blob, and the URL gains `?id=<image-id>`.
func (rc *RemoteClient) Post(r common.RemoteRequest) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("imageData", r.Filename)
	if err != nil {
		return nil, cmn.WrapErr(cmn.Exception, err, "evloop: building multipart body")
	}
	if _, err := fw.Write(r.Data); err != nil {
		return nil, cmn.WrapErr(cmn.Exception, err, "evloop: writing multipart body")
	}
	if err := mw.WriteField("jsonData", string(r.JSON)); err != nil {
		return nil, cmn.WrapErr(cmn.Exception, err, "evloop: writing multipart field")
	}
	if err := mw.Close(); err != nil {
		return nil, cmn.WrapErr(cmn.Exception, err, "evloop: closing multipart body")
	}

	url := r.URL
	if strings.Contains(url, "?") {
		url += "&id=" + r.ID
	} else {
		url += "?id=" + r.ID
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType(mw.FormDataContentType())
	req.SetBody(body.Bytes())

	if err := rc.client.Do(req, resp); err != nil {
		return nil, &remoteError{class: common.RemoteErrConnect, err: cmn.WrapErr(cmn.Exception, err, "evloop: POST %s", r.URL)}
	}
	status := resp.StatusCode()
	switch {
	case status == fasthttp.StatusOK:
		return append([]byte(nil), resp.Body()...), nil
	case status >= 500:
		return nil, &remoteError{class: common.RemoteErrTransient, err: cmn.NewErr(cmn.Exception, "evloop: POST %s returned %d", r.URL, status)}
	default:
		return nil, &remoteError{class: common.RemoteErrSemantic, err: cmn.NewErr(cmn.Error, "evloop: POST %s returned %d", r.URL, status)}
	}
}

// remoteError tags an error with its remote failure class so the redo
// buffer retries only transient failures.
type remoteError struct {
	class common.RemoteErrorClass
	err   error
}

func (e *remoteError) Error() string { return e.err.Error() }
func (e *remoteError) Unwrap() error { return e.err }

func classify(err error) common.RemoteErrorClass {
	if re, ok := err.(*remoteError); ok {
		return re.class
	}
	return common.RemoteErrOther
}

func optionsJSON(opts map[string]cmn.Value) []byte {
	if len(opts) == 0 {
		return []byte("{}")
	}
	b, err := json.Marshal(opts)
	if err != nil {
		return []byte("{}")
	}
	return b
}
