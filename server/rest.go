// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	"github.com/emicklei/go-restful/v3"
	"github.com/google/uuid"
	"github.com/gorse-io/shopdash/base/log"
	"github.com/gorse-io/shopdash/config"
	"github.com/gorse-io/shopdash/logics"
	"github.com/jellydator/ttlcache/v3"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/swaggest/swgui/v5emb"
	"go.opentelemetry.io/contrib/instrumentation/github.com/emicklei/go-restful/otelrestful"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	apiDocsPath = "/apidocs/"
	apiSpecPath = "/apidocs.json"
)

type cacheKey struct {
	fingerprint uint64
	strategy    string
	customerId  string
	n           int
}

// RestServer implements a REST-ful API server over a recommendation engine.
type RestServer struct {
	Config     *config.Config
	HttpHost   string
	HttpPort   int
	WebService *restful.WebService

	engine     atomic.Pointer[logics.Engine]
	cache      *ttlcache.Cache[cacheKey, *logics.Result]
	httpServer *http.Server
}

func NewRestServer(cfg *config.Config, engine *logics.Engine) *RestServer {
	s := &RestServer{
		Config:     cfg,
		HttpHost:   cfg.Server.Host,
		HttpPort:   cfg.Server.Port,
		WebService: new(restful.WebService),
	}
	if cfg.Recommend.CacheTTL > 0 {
		s.cache = ttlcache.New[cacheKey, *logics.Result](
			ttlcache.WithTTL[cacheKey, *logics.Result](cfg.Recommend.CacheTTL),
			ttlcache.WithCapacity[cacheKey, *logics.Result](cfg.Recommend.CacheSize),
		)
	}
	s.SetEngine(engine)
	s.CreateWebService()
	return s
}

// SetEngine publishes a fully built engine. Cached results of the previous
// engine are never served again because the dataset fingerprint is part of
// the cache key.
func (s *RestServer) SetEngine(engine *logics.Engine) {
	s.engine.Store(engine)
	if d := engine.Dataset(); d != nil {
		EngineTransactions.Set(float64(d.Count()))
	}
}

func (s *RestServer) Engine() *logics.Engine {
	return s.engine.Load()
}

// Handler creates the HTTP handler serving the API, its OpenAPI document
// and metrics.
func (s *RestServer) Handler() http.Handler {
	container := restful.NewContainer()
	container.Add(s.WebService)
	container.Add(restfulspec.NewOpenAPIService(restfulspec.Config{
		WebServices: container.RegisteredWebServices(),
		APIPath:     apiSpecPath,
	}))
	container.Handle(apiDocsPath, v5emb.New("shopdash", apiSpecPath, apiDocsPath))
	container.Handle("/metrics", promhttp.Handler())
	return container
}

// StartHttpServer starts the REST-ful API server and blocks until it stops.
func (s *RestServer) StartHttpServer() error {
	if s.cache != nil {
		go s.cache.Start()
	}
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.HttpHost, s.HttpPort),
		Handler: s.Handler(),
	}
	log.Logger().Info("start http server",
		zap.String("url", fmt.Sprintf("http://%s:%d", s.HttpHost, s.HttpPort)))
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return errors.Trace(err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *RestServer) Shutdown(ctx context.Context) error {
	if s.cache != nil {
		s.cache.Stop()
	}
	if s.httpServer == nil {
		return nil
	}
	return errors.Trace(s.httpServer.Shutdown(ctx))
}

func LogFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	requestId := req.HeaderParameter("X-Request-ID")
	if requestId == "" {
		requestId = uuid.New().String()
	}
	resp.Header().Set("X-Request-ID", requestId)
	start := time.Now()
	chain.ProcessFilter(req, resp)
	log.ResponseLogger(resp).Info(fmt.Sprintf("%s %s", req.Request.Method, req.Request.URL),
		zap.Int("status_code", resp.StatusCode()),
		zap.Duration("duration", time.Since(start)))
}

func (s *RestServer) AuthFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	if s.Config.Server.APIKey == "" || req.HeaderParameter("X-API-Key") == s.Config.Server.APIKey {
		chain.ProcessFilter(req, resp)
		return
	}
	log.ResponseLogger(resp).Error("unauthorized", zap.String("path", req.Request.URL.Path))
	if err := resp.WriteError(http.StatusUnauthorized, fmt.Errorf("unauthorized")); err != nil {
		log.ResponseLogger(resp).Error("failed to write error", zap.Error(err))
	}
}

// CreateWebService creates web service.
func (s *RestServer) CreateWebService() {
	ws := s.WebService
	ws.Consumes(restful.MIME_JSON).Produces(restful.MIME_JSON)
	ws.Path("/api/")
	ws.Filter(LogFilter)
	ws.Filter(otelrestful.OTelFilter("shopdash"))
	ws.Filter(s.AuthFilter)

	ws.Route(ws.GET("/recommend/{strategy}/{customer-id}").To(s.getRecommend).
		Doc("Recommend items to a customer.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommendation"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.PathParameter("strategy", "collaborative, item_based, hybrid or popular").DataType("string")).
		Param(ws.PathParameter("customer-id", "identifier of the customer").DataType("string")).
		Param(ws.QueryParameter("n", "number of returned items").DataType("integer")).
		Returns(http.StatusOK, "OK", logics.Result{}).
		Returns(http.StatusNotFound, "Unknown customer", logics.Result{}).
		Returns(http.StatusServiceUnavailable, "Model or data unavailable", logics.Result{}).
		Writes(logics.Result{}))
	ws.Route(ws.GET("/profile/{customer-id}").To(s.getProfile).
		Doc("Get the profile of a customer.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"customer"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.PathParameter("customer-id", "identifier of the customer").DataType("string")).
		Writes(logics.CustomerProfile{}))
	ws.Route(ws.GET("/popular").To(s.getPopular).
		Doc("Get popular items.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"item"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.QueryParameter("category", "category of returned items").DataType("string")).
		Param(ws.QueryParameter("n", "number of returned items").DataType("integer")).
		Writes([]logics.PopularItem{}))
	ws.Route(ws.GET("/item/{item-id}/neighbors").To(s.getNeighbors).
		Doc("Get similar items.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"item"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Param(ws.PathParameter("item-id", "identifier of the item").DataType("string")).
		Param(ws.QueryParameter("n", "number of returned items").DataType("integer")).
		Writes([]logics.Neighbor{}))
	ws.Route(ws.GET("/summary").To(s.getSummary).
		Doc("Get dataset statistics.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"dashboard"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Writes(logics.Summary{}))
	ws.Route(ws.GET("/insights").To(s.getInsights).
		Doc("Get business insights.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"dashboard"}).
		Param(ws.HeaderParameter("X-API-Key", "secret key for RESTful API")).
		Writes(logics.Insights{}))
}

// ParseInt parses integers from the query parameter.
func ParseInt(request *restful.Request, name string, fallback int) (value int, err error) {
	valueString := request.QueryParameter(name)
	value, err = strconv.Atoi(valueString)
	if err != nil && valueString == "" {
		value = fallback
		err = nil
	}
	return
}

// Recommend answers a recommendation request, memoized by dataset
// fingerprint, strategy, customer and n.
func (s *RestServer) Recommend(strategy, customerId string, n int) (*logics.Result, error) {
	engine := s.Engine()
	key := cacheKey{fingerprint: engine.Fingerprint(), strategy: strategy, customerId: customerId, n: n}
	if s.cache != nil {
		if item := s.cache.Get(key); item != nil {
			RecommendCacheHitTotal.Inc()
			return item.Value(), nil
		}
	}
	start := time.Now()
	result, err := engine.Recommend(strategy, customerId, n)
	if err != nil {
		return nil, errors.Trace(err)
	}
	RecommendSeconds.WithLabelValues(strategy).Observe(time.Since(start).Seconds())
	RecommendTotal.WithLabelValues(strategy, string(result.Status)).Inc()
	if s.cache != nil && result.Status != logics.StatusDataUnavailable {
		s.cache.Set(key, result, ttlcache.DefaultTTL)
	}
	return result, nil
}

func (s *RestServer) getRecommend(request *restful.Request, response *restful.Response) {
	strategy := request.PathParameter("strategy")
	customerId := request.PathParameter("customer-id")
	n, err := ParseInt(request, "n", s.Config.Recommend.DefaultN)
	if err != nil {
		BadRequest(response, err)
		return
	}
	_, span := otel.Tracer("shopdash").Start(request.Request.Context(), "Recommend",
		trace.WithAttributes(
			attribute.String("strategy", strategy),
			attribute.String("customer_id", customerId),
			attribute.Int("n", n)))
	result, err := s.Recommend(strategy, customerId, n)
	if result != nil {
		span.SetAttributes(attribute.String("status", string(result.Status)))
	}
	span.End()
	if err != nil {
		if errors.Is(err, errors.NotValid) {
			BadRequest(response, err)
		} else {
			InternalServerError(response, err)
		}
		return
	}
	status := http.StatusOK
	switch result.Status {
	case logics.StatusUnknownEntity:
		status = http.StatusNotFound
	case logics.StatusModelUnavailable, logics.StatusDataUnavailable:
		status = http.StatusServiceUnavailable
	}
	WriteJson(response, status, result)
}

func (s *RestServer) getProfile(request *restful.Request, response *restful.Response) {
	profile, err := s.Engine().Profile(request.PathParameter("customer-id"))
	if err != nil {
		Error(response, err)
		return
	}
	Ok(response, profile)
}

func (s *RestServer) getPopular(request *restful.Request, response *restful.Response) {
	n, err := ParseInt(request, "n", s.Config.Recommend.DefaultN)
	if err != nil {
		BadRequest(response, err)
		return
	}
	items, err := s.Engine().PopularItems(request.QueryParameter("category"), n)
	if err != nil {
		Error(response, err)
		return
	}
	Ok(response, items)
}

func (s *RestServer) getNeighbors(request *restful.Request, response *restful.Response) {
	n, err := ParseInt(request, "n", s.Config.Recommend.DefaultN)
	if err != nil {
		BadRequest(response, err)
		return
	}
	neighbors, err := s.Engine().Neighbors(request.PathParameter("item-id"), n)
	if err != nil {
		Error(response, err)
		return
	}
	Ok(response, neighbors)
}

func (s *RestServer) getSummary(_ *restful.Request, response *restful.Response) {
	summary, err := s.Engine().Summary()
	if err != nil {
		Error(response, err)
		return
	}
	Ok(response, summary)
}

func (s *RestServer) getInsights(_ *restful.Request, response *restful.Response) {
	insights, err := s.Engine().Insights()
	if err != nil {
		Error(response, err)
		return
	}
	Ok(response, insights)
}

// Error maps engine errors to status codes.
func Error(response *restful.Response, err error) {
	switch {
	case errors.Is(err, errors.NotFound):
		PageNotFound(response, err)
	case errors.Is(err, errors.NotAssigned):
		ServiceUnavailable(response, err)
	case errors.Is(err, errors.NotValid):
		BadRequest(response, err)
	default:
		InternalServerError(response, err)
	}
}

// BadRequest returns a bad request error.
func BadRequest(response *restful.Response, err error) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	log.ResponseLogger(response).Error("bad request", zap.Error(err))
	if err = response.WriteError(http.StatusBadRequest, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// InternalServerError returns a internal server error.
func InternalServerError(response *restful.Response, err error) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	log.ResponseLogger(response).Error("internal server error", zap.Error(err))
	if err = response.WriteError(http.StatusInternalServerError, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// ServiceUnavailable returns a service unavailable error.
func ServiceUnavailable(response *restful.Response, err error) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	log.ResponseLogger(response).Warn("service unavailable", zap.Error(err))
	if err = response.WriteError(http.StatusServiceUnavailable, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// PageNotFound returns a not found error.
func PageNotFound(response *restful.Response, err error) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	if err := response.WriteError(http.StatusNotFound, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// Ok sends the content as JSON to the client.
func Ok(response *restful.Response, content any) {
	WriteJson(response, http.StatusOK, content)
}

func WriteJson(response *restful.Response, status int, content any) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	if err := response.WriteHeaderAndJson(status, content, restful.MIME_JSON); err != nil {
		log.ResponseLogger(response).Error("failed to write json", zap.Error(err))
	}
}
