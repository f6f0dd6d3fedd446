package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

const (
	// MaxBatchSize は1リクエストでまとめて呼び出せるプロシージャ数の上限。
	MaxBatchSize = 16
	maxBodyBytes = 1 << 20
)

// Recorder はプロシージャ呼び出し結果を集計するインターフェース。
type Recorder interface {
	RecordRPCCall(path, code string)
}

// Router はパス名でプロシージャを引き、tRPCのHTTP形式で応答するhttp.Handler。
// "/trpc"などのプレフィックスはhttp.StripPrefixで除去してから渡す。
type Router struct {
	procedures map[string]*Procedure
	recorder   Recorder
}

// NewRouter はRouterを生成する。recorderはnilでもよい。
func NewRouter(recorder Recorder) *Router {
	return &Router{
		procedures: make(map[string]*Procedure),
		recorder:   recorder,
	}
}

// Register はパス（例: "user.getUser"）にプロシージャを登録する。
func (rt *Router) Register(path string, p *Procedure) {
	if _, dup := rt.procedures[path]; dup {
		panic(fmt.Sprintf("rpc: duplicate procedure %q", path))
	}
	rt.procedures[path] = p
}

// Len は登録済みのプロシージャ数を返す。
func (rt *Router) Len() int {
	return len(rt.procedures)
}

type successEnvelope struct {
	Result resultShape `json:"result"`
}

type resultShape struct {
	Data any `json:"data"`
}

// callResult は1回のプロシージャ呼び出しの結果。
type callResult struct {
	path string
	data any
	err  *Error
}

func (c callResult) status() int {
	if c.err != nil {
		return c.err.Code.HTTPStatus()
	}
	return http.StatusOK
}

func (c callResult) body() any {
	if c.err != nil {
		return c.err.envelope(c.path)
	}
	return successEnvelope{Result: resultShape{Data: c.data}}
}

// ServeHTTP はGET（query）とPOST（mutation）を処理する。?batch=1 でバッチ呼び出しになる。
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var typ ProcedureType
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		typ = TypeQuery
	case http.MethodPost:
		typ = TypeMutation
	default:
		w.Header().Set("Allow", "GET, POST")
		rt.writeSingle(w, callResult{err: NewError(CodeMethodNotSupported, "サポートされていないメソッドです")})
		return
	}

	pathPart := strings.Trim(r.URL.Path, "/")
	batch := isBatch(r)

	var paths []string
	if batch {
		paths = strings.Split(pathPart, ",")
		if len(paths) > MaxBatchSize {
			rt.writeSingle(w, callResult{err: NewError(CodeBadRequest, fmt.Sprintf("バッチ呼び出しは%d件までです", MaxBatchSize))})
			return
		}
	} else {
		paths = []string{pathPart}
	}

	raw, err := readInput(w, r)
	if err != nil {
		rt.writeSingle(w, callResult{err: err})
		return
	}

	inputs := make([]json.RawMessage, len(paths))
	if batch && !isEmptyInput(raw) {
		var byIndex map[string]json.RawMessage
		if err := json.Unmarshal(raw, &byIndex); err != nil {
			rt.writeSingle(w, callResult{err: &Error{Code: CodeParseError, Message: "バッチ入力を解析できません", Cause: err}})
			return
		}
		for i := range paths {
			inputs[i] = byIndex[strconv.Itoa(i)]
		}
	} else if !batch {
		inputs[0] = raw
	}

	results := make([]callResult, len(paths))
	for i, path := range paths {
		results[i] = rt.call(r, typ, path, inputs[i])
	}

	if !batch {
		rt.writeSingle(w, results[0])
		return
	}
	rt.writeBatch(w, results)
}

// call は1つのプロシージャを呼び出す。
func (rt *Router) call(r *http.Request, typ ProcedureType, path string, input json.RawMessage) callResult {
	res := callResult{path: path}

	p, ok := rt.procedures[path]
	switch {
	case !ok:
		res.err = NewError(CodeNotFound, fmt.Sprintf("No %q-procedure on path %q", typ, path))
	case p.typ != typ:
		res.err = NewError(CodeMethodNotSupported, fmt.Sprintf("Unsupported %s-request to %s procedure at path %q", methodFor(typ), p.typ, path))
	default:
		data, err := p.invoke(r.Context(), input)
		if err != nil {
			res.err = toError(err)
		} else {
			res.data = data
		}
	}

	code := "OK"
	if res.err != nil {
		code = string(res.err.Code)
	}
	if rt.recorder != nil {
		recordedPath := path
		if !ok {
			recordedPath = "unknown"
		}
		rt.recorder.RecordRPCCall(recordedPath, code)
	}
	return res
}

func (rt *Router) writeSingle(w http.ResponseWriter, res callResult) {
	writeJSON(w, res.status(), res.body())
}

// writeBatch は呼び出し順の配列で応答する。ステータスが揃わない場合は207。
func (rt *Router) writeBatch(w http.ResponseWriter, results []callResult) {
	status := results[0].status()
	bodies := make([]any, len(results))
	for i, res := range results {
		if res.status() != status {
			status = http.StatusMultiStatus
		}
		bodies[i] = res.body()
	}
	writeJSON(w, status, bodies)
}

// readInput はGETなら?input=、POSTならボディを入力として読み出す。
func readInput(w http.ResponseWriter, r *http.Request) (json.RawMessage, *Error) {
	var raw []byte
	if r.Method == http.MethodPost {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, NewError(CodePayloadTooLarge, "リクエストボディが大きすぎます")
			}
			return nil, &Error{Code: CodeBadRequest, Message: "リクエストボディを読み込めません", Cause: err}
		}
		raw = body
	} else {
		raw = []byte(r.URL.Query().Get("input"))
	}

	if !isEmptyInput(raw) && !json.Valid(raw) {
		return nil, NewError(CodeParseError, "入力をJSONとして解析できません")
	}
	return raw, nil
}

func isBatch(r *http.Request) bool {
	v := r.URL.Query().Get("batch")
	return v == "1" || v == "true"
}

func methodFor(typ ProcedureType) string {
	if typ == TypeMutation {
		return "POST"
	}
	return "GET"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode rpc response", slog.String("error", err.Error()))
	}
}
