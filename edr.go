package main

/* edrserve is a web server implementing the OGC Environmental Data
   Retrieval protocol over multidimensional scientific datasets.
   Collections are declared in config.json documents, optionally
   enriched by YAML descriptors or a Postgres catalogue, and served
   through position, area and cube data queries.
   This server reads the source files directly and holds the loaded
   collections in memory, so a SIGHUP is enough to pick up new or
   changed configuration. */

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/CloudyKit/jet"
	reuseport "github.com/kavu/go_reuseport"

	"github.com/xpublish-community/edrserve/catalogue"
	"github.com/xpublish-community/edrserve/dataset"
	"github.com/xpublish-community/edrserve/encoders"
	"github.com/xpublish-community/edrserve/geometry"
	"github.com/xpublish-community/edrserve/metadata"
	"github.com/xpublish-community/edrserve/metrics"
	"github.com/xpublish-community/edrserve/utils"
)

// Global variable to hold the values specified
// on the config.json documents.
var configMap map[string]*utils.Config

var registry = catalogue.NewRegistry()
var responseCache *catalogue.ResponseCache

var (
	port            = flag.Int("p", 8080, "Server listening port.")
	serverDataDir   = flag.String("data_dir", utils.DataDir, "Server data directory.")
	serverConfigDir = flag.String("conf_dir", utils.EtcDir, "Server config directory.")
	serverLogDir    = flag.String("log_dir", "", "Server log directory.")
	validateConfig  = flag.Bool("check_conf", false, "Validate server config files.")
	dumpConfig      = flag.Bool("dump_conf", false, "Dump server config files.")
	verbose         = flag.Bool("v", false, "Verbose mode for more server outputs.")
)

var reEDRMap map[string]*regexp.Regexp

var (
	Error *log.Logger
	Info  *log.Logger
)

var metricsLogger metrics.Logger

var queryTypes = map[string]bool{
	"position": true,
	"area":     true,
	"cube":     true,
}

// init initialises the loggers, loads every config file, fills the
// collection registry and wires the SIGHUP config watcher. This is
// the first function to be called in main.
func init() {
	Error = log.New(os.Stderr, "EDR: ", log.Ldate|log.Ltime|log.Lshortfile)
	Info = log.New(os.Stdout, "EDR: ", log.Ldate|log.Ltime|log.Lshortfile)

	flag.Parse()

	utils.DataDir = *serverDataDir
	utils.EtcDir = *serverConfigDir

	filePaths := []string{
		utils.DataDir + "/templates/index.jet"}

	for _, filePath := range filePaths {
		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			panic(err)
		}
	}

	confMap, err := utils.LoadAllConfigFiles(utils.EtcDir, *verbose)
	if err != nil {
		Error.Printf("Error in loading config files: %v\n", err)
		panic(err)
	}

	mergePostgresDatasets(confMap)

	if *validateConfig {
		os.Exit(0)
	}

	if *dumpConfig {
		configJson, err := utils.DumpConfig(confMap)
		if err != nil {
			Error.Printf("Error in dumping configs: %v\n", err)
		} else {
			log.Print(configJson)
		}
		os.Exit(0)
	}

	configMap = confMap

	nLoaded := registry.LoadFromConfig(configMap, Error)
	Info.Printf("%d collections loaded", nLoaded)

	utils.WatchConfig(Info, Error, &configMap, *verbose, func(newConf map[string]*utils.Config) {
		mergePostgresDatasets(newConf)
		nLoaded := registry.LoadFromConfig(newConf, Error)
		Info.Printf("config reloaded, %d collections", nLoaded)
	})

	for _, conf := range configMap {
		if len(conf.ServiceConfig.MemcacheAddress) > 0 {
			responseCache = catalogue.NewResponseCache(conf.ServiceConfig.MemcacheAddress)
			break
		}
	}

	reEDRMap = utils.CompileEDRRegexMap()

	if len(*serverLogDir) > 0 {
		if *serverLogDir == "-" {
			metricsLogger = metrics.NewStdoutLogger()
		} else {
			maxLogFileSize := int64(0)
			if val, ok := os.LookupEnv("EDRSERVE_MAX_LOG_FILE_SIZE"); ok {
				valInt, e := strconv.ParseInt(val, 10, 64)
				if e == nil {
					maxLogFileSize = valInt
				} else {
					Error.Printf("invalid EDRSERVE_MAX_LOG_FILE_SIZE: %v", e)
				}
			}

			maxLogFiles := -1
			if val, ok := os.LookupEnv("EDRSERVE_MAX_LOG_FILES"); ok {
				valInt, e := strconv.ParseInt(val, 10, 32)
				if e == nil {
					maxLogFiles = int(valInt)
				} else {
					Error.Printf("invalid EDRSERVE_MAX_LOG_FILES: %v", e)
				}
			}

			metricsLogger = metrics.NewFileLogger(*serverLogDir, maxLogFileSize, maxLogFiles, *verbose)
		}
	}
}

// mergePostgresDatasets appends the dataset definitions registered in
// the Postgres catalogue of each namespace that declares one.
func mergePostgresDatasets(confMap map[string]*utils.Config) {
	for ns, conf := range confMap {
		if len(conf.ServiceConfig.PostgresConn) == 0 {
			continue
		}

		src, err := catalogue.OpenPG(conf.ServiceConfig.PostgresConn, 4)
		if err != nil {
			Error.Printf("namespace %v: failed to connect to Postgres catalogue: %v", ns, err)
			continue
		}

		defs, err := src.LoadDatasetDefs(ns)
		src.Close()
		if err != nil {
			Error.Printf("namespace %v: failed to query Postgres catalogue: %v", ns, err)
			continue
		}

		for i := range defs {
			defs[i].NameSpace = conf.ServiceConfig.NameSpace
		}
		conf.Datasets = append(conf.Datasets, defs...)

		if *verbose {
			Info.Printf("namespace %v: %d datasets from Postgres catalogue", ns, len(defs))
		}
	}
}

func httpError(w http.ResponseWriter, metricsCollector *metrics.MetricsCollector, msg string, status int) {
	metricsCollector.Info.HTTPStatus = status
	http.Error(w, msg, status)
}

// selectionStatus maps a selection or geometry error to its EDR HTTP
// status: 422 for unparseable geometry, 404 for selections matching no
// data, 400 otherwise.
func selectionStatus(err error) int {
	switch {
	case errors.Is(err, geometry.ErrInvalidGeometry):
		return 422
	case errors.Is(err, dataset.ErrEmptySelection):
		return 404
	}
	return 400
}

// serveDataQuery runs a position, area or cube query end to end:
// parameter filtering, then the z, datetime and free-form dimension
// selections, then the geometry selection, reprojection and encoding.
func serveDataQuery(queryType, collection string, params utils.EDRParams, query map[string][]string, w http.ResponseWriter, metricsCollector *metrics.MetricsCollector) {
	metricsCollector.Info.Query.Collection = collection
	metricsCollector.Info.Query.QueryType = queryType
	metricsCollector.Info.Query.CRS = params.GetCRS()

	format := ""
	if params.Format != nil {
		format = *params.Format
	}
	metricsCollector.Info.Query.Format = format

	encode, err := encoders.Lookup(queryType, format)
	if err != nil {
		httpError(w, metricsCollector, err.Error(), 404)
		return
	}

	coll, err := registry.Get(collection)
	if err != nil {
		httpError(w, metricsCollector, err.Error(), 404)
		return
	}
	ds := coll.Data

	if len(params.Parameters) > 0 {
		ds, err = ds.FilterParameters(params.Parameters)
		if err != nil {
			httpError(w, metricsCollector, err.Error(), 404)
			return
		}
	}

	if params.Z != nil {
		ds, err = ds.SelectZ(*params.Z, params.GetMethod())
		if err != nil {
			httpError(w, metricsCollector, err.Error(), selectionStatus(err))
			return
		}
	}

	if params.Datetime != nil {
		ds, err = ds.SelectDatetime(*params.Datetime, params.GetMethod())
		if err != nil {
			httpError(w, metricsCollector, err.Error(), selectionStatus(err))
			return
		}
	}

	ds, err = ds.SelectExtraDims(utils.ExtraDimSelectors(query), params.GetMethod())
	if err != nil {
		httpError(w, metricsCollector, err.Error(), selectionStatus(err))
		return
	}

	switch queryType {
	case "position":
		if params.Coords == nil {
			httpError(w, metricsCollector, "position queries require a coords parameter", 400)
			return
		}
		metricsCollector.Info.Query.Geometry = *params.Coords
		metricsCollector.Info.Query.GeometrySRS = params.GetCRS()
		ds, err = geometry.SelectByPosition(ds, *params.Coords, params.GetMethod(), params.GetCRS())
	case "area":
		if params.Coords == nil {
			httpError(w, metricsCollector, "area queries require a coords parameter", 400)
			return
		}
		metricsCollector.Info.Query.Geometry = *params.Coords
		metricsCollector.Info.Query.GeometrySRS = params.GetCRS()
		ds, err = geometry.SelectByArea(ds, *params.Coords, params.GetCRS())
	case "cube":
		if len(params.BBox) == 0 {
			httpError(w, metricsCollector, "cube queries require a bbox parameter", 400)
			return
		}
		ds, err = geometry.SelectByBBox(ds, params.BBox, params.GetCRS())
	}

	if err != nil {
		httpError(w, metricsCollector, err.Error(), selectionStatus(err))
		return
	}

	if !geometry.SameCRS(params.GetCRS(), ds.CRS) {
		ds, err = geometry.ProjectDataset(ds, params.GetCRS())
		if err != nil {
			httpError(w, metricsCollector, err.Error(), 400)
			return
		}
	}

	metricsCollector.Info.Query.NumPoints = ds.NumPoints()

	resp, err := encode(ds)
	if err != nil {
		if errors.Is(err, encoders.ErrUnsupportedLayout) {
			httpError(w, metricsCollector, err.Error(), 400)
			return
		}
		Error.Printf("%v query encoding error: %v", queryType, err)
		httpError(w, metricsCollector, err.Error(), 500)
		return
	}

	w.Header().Set("Content-Type", resp.ContentType)
	if len(resp.Disposition) > 0 {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", resp.Disposition))
	}
	w.Write(resp.Body)
}

// serveCollectionMetadata writes the collection document, memoised in
// memcached when a cache is configured.
func serveCollectionMetadata(collection, reqURI string, w http.ResponseWriter, metricsCollector *metrics.MetricsCollector) {
	if body, ok := responseCache.Get(reqURI); ok {
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
		return
	}

	coll, err := registry.Get(collection)
	if err != nil {
		httpError(w, metricsCollector, err.Error(), 404)
		return
	}

	outputFormats, _ := encoders.Formats("position")
	doc, err := metadata.BuildCollection(coll.Data, collection, coll.Keywords, outputFormats)
	if err != nil {
		httpError(w, metricsCollector, err.Error(), 500)
		return
	}

	body, err := json.Marshal(doc)
	if err != nil {
		httpError(w, metricsCollector, err.Error(), 500)
		return
	}

	responseCache.Put(reqURI, body)
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func serveFormats(queryType string, w http.ResponseWriter, metricsCollector *metrics.MetricsCollector) {
	descs, err := encoders.Describe(queryType)
	if err != nil {
		httpError(w, metricsCollector, err.Error(), 404)
		return
	}
	body, err := json.Marshal(descs)
	if err != nil {
		httpError(w, metricsCollector, err.Error(), 500)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func newMetricsCollector(r *http.Request) *metrics.MetricsCollector {
	metricsCollector := metrics.NewMetricsCollector(metricsLogger)

	metricsCollector.Info.ReqTime = time.Now().Format(utils.ISOFormat)

	reqUrl, e := url.QueryUnescape(r.URL.String())
	if e == nil {
		metricsCollector.Info.URL.RawURL = reqUrl
	} else {
		metricsCollector.Info.URL.RawURL = r.URL.String()
	}

	metricsCollector.Info.RemoteAddr = utils.ParseRemoteAddr(r)
	metricsCollector.Info.HTTPStatus = 200
	return metricsCollector
}

// edrHandler handles every request received on /edr/. The path is
// either {collection}/{queryType}, {queryType}/formats or a bare
// {collection}, where a collection identifier may contain a
// namespace prefix.
func edrHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if *verbose {
		Info.Printf("%s\n", r.URL.String())
	}

	metricsCollector := newMetricsCollector(r)
	defer metricsCollector.Log()

	t0 := time.Now()
	defer func() { metricsCollector.Info.ReqDuration = time.Since(t0) }()

	segments := strings.Split(strings.Trim(r.URL.Path[len("/edr/"):], "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		httpError(w, metricsCollector, "no collection specified", 404)
		return
	}

	last := segments[len(segments)-1]

	if last == "formats" && len(segments) == 2 && queryTypes[segments[0]] {
		serveFormats(segments[0], w, metricsCollector)
		return
	}

	query, err := utils.ParseQuery(r.URL.RawQuery)
	if err != nil {
		httpError(w, metricsCollector, fmt.Sprintf("Failed to parse query: %v", err), 400)
		return
	}

	if queryTypes[last] && len(segments) > 1 {
		collection := strings.Join(segments[:len(segments)-1], "/")
		params, err := utils.EDRParamsChecker(query, reEDRMap)
		if err != nil {
			httpError(w, metricsCollector, fmt.Sprintf("Wrong EDR parameters on URL: %s", err), 400)
			return
		}
		serveDataQuery(last, collection, params, query, w, metricsCollector)
		return
	}

	serveCollectionMetadata(strings.Join(segments, "/"), r.URL.RequestURI(), w, metricsCollector)
}

// landingHandler serves the OGC API landing document at the service
// root, as JSON by default or rendered through the jet template for
// browsers.
func landingHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	metricsCollector := newMetricsCollector(r)
	defer metricsCollector.Log()

	page := metadata.BuildLandingPage("EDR Server",
		"Environmental Data Retrieval API over multidimensional scientific datasets",
		registry.IDs())

	wantsHTML := strings.Contains(r.Header.Get("Accept"), "text/html")
	if f := r.URL.Query().Get("f"); f != "" {
		wantsHTML = f == "html"
	}

	if wantsHTML {
		view := jet.NewSet(jet.SafeWriter(func(w io.Writer, b []byte) {
			w.Write(b)
		}), utils.DataDir+"/templates")

		template, err := view.GetTemplate("index.jet")
		if err != nil {
			httpError(w, metricsCollector, err.Error(), 500)
			return
		}

		w.Header().Set("Content-Type", "text/html")
		vars := make(jet.VarMap)
		if err := template.Execute(w, vars, page); err != nil {
			Error.Printf("landing page template error: %v", err)
		}
		return
	}

	body, err := json.Marshal(page)
	if err != nil {
		httpError(w, metricsCollector, err.Error(), 500)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func main() {
	http.HandleFunc("/", landingHandler)
	http.HandleFunc("/edr/", edrHandler)

	listener, err := reuseport.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", *port))
	if err != nil {
		Error.Printf("reuseport listener error: %v", err)
		os.Exit(1)
	}

	Info.Printf("EDR server is ready")
	log.Fatal(http.Serve(listener, nil))
}
