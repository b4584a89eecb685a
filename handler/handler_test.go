package handler

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/FarazKhanAI/ImageRestoration/config"
	"github.com/FarazKhanAI/ImageRestoration/model"
	"github.com/FarazKhanAI/ImageRestoration/service"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

type testServer struct {
	router *gin.Engine
	cfg    *config.Config
	redis  *miniredis.Miniredis
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	root := t.TempDir()
	cfg := config.New()
	cfg.Upload.UploadDir = root
	cfg.Upload.RawDir = filepath.Join(root, "raw")
	cfg.Upload.MaskDir = filepath.Join(root, "masks")
	cfg.Upload.ProcessedDir = filepath.Join(root, "processed")
	require.NoError(t, cfg.EnsureDirs())

	mr := miniredis.RunT(t)
	cfg.Redis.Addr = mr.Addr()
	cfg.Redis.TTL = time.Hour
	redisService := service.NewRedisService(&cfg.Redis)
	t.Cleanup(func() { _ = redisService.Close() })

	presets, err := config.ParsePresets([]byte("presets:\n  gentle:\n    sharpness: 10\n"))
	require.NoError(t, err)

	h := NewRestoreHandler(cfg, presets, redisService, service.NewRestorationService(&cfg.Restoration))
	return &testServer{
		router: NewRouter(h, BuildInfo{Version: "test"}),
		cfg:    cfg,
		redis:  mr,
	}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// testImagePNG 灰色背景上带一块黑色损伤
func testImagePNG(t *testing.T) []byte {
	t.Helper()
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(100, 120, 140, 0), 120, 160, gocv.MatTypeCV8UC3)
	defer img.Close()
	gocv.Rectangle(&img, image.Rect(70, 50, 80, 60), color.RGBA{A: 255}, -1)
	data, err := service.EncodeImage(img, gocv.PNGFileExt, 0)
	require.NoError(t, err)
	return data
}

type formFile struct {
	field, name string
	data        []byte
}

func multipartRequest(t *testing.T, url string, files []formFile, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range files {
		part, err := mw.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, url, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"version":"test"`)
}

func TestProcess_MissingImage(t *testing.T) {
	s := newTestServer(t)
	w := s.do(multipartRequest(t, "/process", nil, map[string]string{"parameters": "{}"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp model.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
}

func TestProcess_RejectsUnsupportedExtension(t *testing.T) {
	s := newTestServer(t)
	w := s.do(multipartRequest(t, "/process", []formFile{{"image", "photo.gif", testImagePNG(t)}}, nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProcess_CorruptImage(t *testing.T) {
	s := newTestServer(t)
	w := s.do(multipartRequest(t, "/process", []formFile{{"image", "photo.png", []byte("not a png")}}, nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProcess_UnknownPreset(t *testing.T) {
	s := newTestServer(t)
	w := s.do(multipartRequest(t, "/process",
		[]formFile{{"image", "photo.png", testImagePNG(t)}},
		map[string]string{"preset": "vintage"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProcess_RestoresDownloadsAndCaches(t *testing.T) {
	s := newTestServer(t)
	fields := map[string]string{
		"mask_data":  `{"coordinates":[{"x":75,"y":55},{"x":"bad","y":1}],"brush_size":9}`,
		"parameters": `{"brightness":0,"contrast":0,"saturation":"100","noise_reduction":0,"auto_white_balance":false}`,
		"preset":     "gentle",
	}
	upload := testImagePNG(t)

	w := s.do(multipartRequest(t, "/process", []formFile{{"image", "photo.png", upload}}, fields))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp model.ProcessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.True(t, resp.MaskUsed)
	assert.False(t, resp.Cached)
	assert.NotEmpty(t, resp.MaskID)
	assert.True(t, strings.HasPrefix(resp.ProcessedImage, "data:image/jpeg;base64,"))
	assert.True(t, strings.HasPrefix(resp.OriginalImage, "data:image/jpeg;base64,"))
	require.NotNil(t, resp.Metrics)
	require.NotNil(t, resp.Metrics.DamageRatio)
	assert.Contains(t, resp.Metrics.StepsApplied, service.StepSharpness)
	assert.FileExists(t, filepath.Join(s.cfg.Upload.ProcessedDir, resp.Filename))

	entries, err := os.ReadDir(s.cfg.Upload.RawDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "raw upload is removed after processing")

	dl := s.do(httptest.NewRequest(http.MethodGet, "/download/"+resp.Filename, nil))
	assert.Equal(t, http.StatusOK, dl.Code)
	assert.Contains(t, dl.Header().Get("Content-Disposition"), "restored_"+resp.Filename)

	mask := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/mask/"+resp.MaskID, nil))
	assert.Equal(t, http.StatusOK, mask.Code)
	assert.Equal(t, "image/png", mask.Header().Get("Content-Type"))

	// 结果文件被覆盖后，缓存命中会重新写回
	processedPath := filepath.Join(s.cfg.Upload.ProcessedDir, resp.Filename)
	require.NoError(t, os.WriteFile(processedPath, []byte("stale"), 0o644))

	again := s.do(multipartRequest(t, "/process", []formFile{{"image", "photo.png", upload}}, fields))
	require.Equal(t, http.StatusOK, again.Code)
	var cached model.ProcessResponse
	require.NoError(t, json.Unmarshal(again.Body.Bytes(), &cached))
	assert.True(t, cached.Cached)
	assert.Equal(t, resp.Filename, cached.Filename)
	assert.Equal(t, resp.ProcessedImage, cached.ProcessedImage)
	assert.Equal(t, resp.OriginalImage, cached.OriginalImage)

	onDisk, err := os.ReadFile(processedPath)
	require.NoError(t, err)
	want, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(resp.ProcessedImage, "data:image/jpeg;base64,"))
	require.NoError(t, err)
	assert.Equal(t, want, onDisk)
}

func TestProcess_WorksWithoutRedis(t *testing.T) {
	s := newTestServer(t)
	s.redis.Close()

	w := s.do(multipartRequest(t, "/process", []formFile{{"image", "photo.png", testImagePNG(t)}}, nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp model.ProcessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.False(t, resp.MaskUsed)
	assert.Empty(t, resp.MaskID)
}

func TestDownload(t *testing.T) {
	s := newTestServer(t)

	w := s.do(httptest.NewRequest(http.MethodGet, "/download/..secret", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(httptest.NewRequest(http.MethodGet, "/download/missing.jpg", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetMask_NotFound(t *testing.T) {
	s := newTestServer(t)
	w := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/mask/unknown", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTestMask(t *testing.T) {
	s := newTestServer(t)
	body := `{"coordinates":[{"x":200,"y":200,"radius":10}],"brush_size":20}`
	w := s.do(httptest.NewRequest(http.MethodPost, "/test-mask", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp model.TestMaskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.InDelta(t, 314, resp.MaskPixels, 40)
	assert.FileExists(t, resp.MaskPath)
}

func TestTestMask_InvalidJSON(t *testing.T) {
	s := newTestServer(t)
	w := s.do(httptest.NewRequest(http.MethodPost, "/test-mask", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDetectScratches(t *testing.T) {
	s := newTestServer(t)

	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(90, 90, 90, 0), 200, 200, gocv.MatTypeCV8UC3)
	defer img.Close()
	gocv.Line(&img, image.Point{X: 10, Y: 100}, image.Point{X: 190, Y: 110}, color.RGBA{R: 240, G: 240, B: 240, A: 255}, 2)
	data, err := service.EncodeImage(img, gocv.PNGFileExt, 0)
	require.NoError(t, err)

	w := s.do(multipartRequest(t, "/api/v1/detect-scratches", []formFile{{"image", "scan.png", data}}, nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp model.ScratchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Positive(t, resp.MaskPixels)
	assert.True(t, strings.HasPrefix(resp.Mask, "data:image/png;base64,"))
}

func TestPresets(t *testing.T) {
	s := newTestServer(t)
	w := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/presets", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"gentle"`)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	w := s.do(httptest.NewRequest(http.MethodOptions, "/process", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
