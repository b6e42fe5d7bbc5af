package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/model"
)

const (
	defaultRoadLayers = "buurtwegen=https://raw.githubusercontent.com/carameljm/buurtwegenomgevingsdossiers/main/buurtwegenoostvlaanderen.geojson," +
		"wijzigingen=https://raw.githubusercontent.com/carameljm/buurtwegenomgevingsdossiers/main/wijzigingenoostvlaanderen.geojson"
	defaultLinkTemplate = "https://omgevingsloketinzage.vlaanderen.be/raadpleegen-dossier/_/dossier/{id}"
)

type CacheCfg struct {
	TTL       time.Duration
	Size      int
	RedisAddr string
}

type KafkaCfg struct {
	Brokers []string
	Topic   string
	// InvalidationTopic carries dataset-update events; empty disables the consumer.
	InvalidationTopic string
	GroupID           string
}

// EnrichCfg drives the optional per-match annotations.
type EnrichCfg struct {
	Enabled bool
	// VRBGURL is the WFS that answers the municipality lookup.
	VRBGURL           string
	MunicipalityLayer string
	MunicipalityField string
	InzageURL         string
	// InzageLinkTemplate gets {id} replaced by the project number.
	InzageLinkTemplate string
	ProjectField       string
}

type Config struct {
	Addr       string
	LogLevel   string
	LogConsole bool
	OutDir     string

	WFSURL        string
	RoadLayers    []model.LayerSource
	DossierLayers []string

	BBox            model.BBox
	WorkingCRS      string
	OutputCRS       string
	DefaultLayerCRS string

	DisplayBuffer     float64
	MatchShrink       float64
	SimplifyTolerance float64
	Window            time.Duration

	GeomField    string
	AltGeomField string
	DateField    string
	IDFields     []string
	LinkTemplate string

	HTTPTimeout   time.Duration
	RunTimeout    time.Duration
	ParallelFetch bool
	H3Res         int

	LayerCache CacheCfg
	Kafka      KafkaCfg
	Enrich     EnrichCfg

	// bboxErr keeps a BBOX parse failure for Validate
	bboxErr error
}

// FromEnv loads .env (if present) and then reads the process environment.
func FromEnv() Config {
	// existing variables win over the file
	_ = godotenv.Load()

	workingCRS := getenv("WORKING_CRS", "EPSG:31370")
	bbox, bboxErr := parseBBox(getenv("BBOX", "77144,158145,127271,200742"), workingCRS)

	return Config{
		Addr:       getenv("ADDR", ":8090"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),
		OutDir:     getenv("OUT_DIR", "."),

		WFSURL:        getenv("WFS_URL", "https://www.mercator.vlaanderen.be/raadpleegdienstenmercatorpubliek/wfs"),
		RoadLayers:    parseLayerSources(getenv("ROAD_LAYERS", defaultRoadLayers)),
		DossierLayers: parseList(getenv("DOSSIER_LAYERS", "lu:lu_omv_gd_v2,lu:lu_omv_vk_v2")),

		BBox:            bbox,
		WorkingCRS:      workingCRS,
		OutputCRS:       getenv("OUTPUT_CRS", "EPSG:4326"),
		DefaultLayerCRS: getenv("DEFAULT_LAYER_CRS", "EPSG:4326"),

		DisplayBuffer:     getfloat("DISPLAY_BUFFER", 500),
		MatchShrink:       getfloat("MATCH_SHRINK", -1.0),
		SimplifyTolerance: getfloat("SIMPLIFY_TOLERANCE", 0.1),
		Window:            getduration("WINDOW", 7*24*time.Hour),

		GeomField:    getenv("WFS_GEOM_FIELD", "geom"),
		AltGeomField: getenv("WFS_ALT_GEOM_FIELD", "geometry"),
		DateField:    getenv("WFS_DATE_FIELD", "datum_indiening"),
		IDFields:     parseList(getenv("DOSSIER_ID_FIELDS", "dossierid,dossier_id")),
		LinkTemplate: getenv("LINK_TEMPLATE", defaultLinkTemplate),

		HTTPTimeout:   getduration("HTTP_TIMEOUT", 30*time.Second),
		RunTimeout:    getduration("RUN_TIMEOUT", 90*time.Second),
		ParallelFetch: getbool("PARALLEL_FETCH", false),
		H3Res:         getint("H3_RES", 9),

		LayerCache: CacheCfg{
			TTL:       getduration("LAYER_CACHE_TTL", 0),
			Size:      getint("LAYER_CACHE_SIZE", 4),
			RedisAddr: getenv("REDIS_ADDR", ""),
		},
		Kafka: KafkaCfg{
			Brokers: parseList(getenv("KAFKA_BROKERS", "")),
			Topic:   getenv("KAFKA_TOPIC", "buurtweg-matches"),

			InvalidationTopic: getenv("KAFKA_INVALIDATION_TOPIC", ""),
			GroupID:           getenv("KAFKA_GROUP_ID", "buurtweg-monitor"),
		},
		Enrich: EnrichCfg{
			Enabled:            getbool("ENRICH_MATCHES", false),
			VRBGURL:            getenv("VRBG_URL", "https://geo.api.vlaanderen.be/VRBG/wfs"),
			MunicipalityLayer:  getenv("VRBG_LAYER", "VRBG:Refgem"),
			MunicipalityField:  getenv("VRBG_NAME_FIELD", "NAAM"),
			InzageURL:          getenv("INZAGE_URL", "https://omgevingsloketinzage.omgeving.vlaanderen.be/proxy-omv-up/rs/v1/inzage/projecten/header"),
			InzageLinkTemplate: getenv("INZAGE_LINK_TEMPLATE", "https://omgevingsloketinzage.omgeving.vlaanderen.be/{id}"),
			ProjectField:       getenv("PROJECT_FIELD", "projectnummer"),
		},
		bboxErr: bboxErr,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.bboxErr != nil {
		errs = append(errs, c.bboxErr)
	} else if !c.BBox.Valid() {
		errs = append(errs, fmt.Errorf("bbox %s is inverted or empty", c.BBox))
	}
	if c.Window <= 0 {
		errs = append(errs, fmt.Errorf("window must be positive, got %s", c.Window))
	}
	if len(c.RoadLayers) == 0 {
		errs = append(errs, errors.New("no road layers configured"))
	}
	if len(c.DossierLayers) == 0 {
		errs = append(errs, errors.New("no dossier layers configured"))
	}
	if c.GeomField == "" || c.DateField == "" {
		errs = append(errs, errors.New("wfs geometry and date fields are required"))
	}
	if c.H3Res > 15 {
		errs = append(errs, fmt.Errorf("h3 resolution %d out of range", c.H3Res))
	}
	if c.Enrich.Enabled && (c.Enrich.VRBGURL == "" || c.Enrich.InzageURL == "") {
		errs = append(errs, errors.New("match enrichment needs VRBG_URL and INZAGE_URL"))
	}
	return errors.Join(errs...)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseList(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parse "minx,miny,maxx,maxy"
func parseBBox(s, srid string) (model.BBox, error) {
	parts := parseList(s)
	if len(parts) != 4 {
		return model.BBox{}, fmt.Errorf("bbox %q: want 4 numbers, got %d", s, len(parts))
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return model.BBox{}, fmt.Errorf("bbox %q: %w", s, err)
		}
		v[i] = f
	}
	return model.BBox{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3], SRID: srid}, nil
}

// parse "buurtwegen=https://a,wijzigingen=https://b" keeping order; bare urls get a positional name
func parseLayerSources(s string) []model.LayerSource {
	var out []model.LayerSource
	for i, p := range parseList(s) {
		name, u, ok := strings.Cut(p, "=")
		if !ok || strings.Contains(name, "/") {
			name, u = fmt.Sprintf("layer-%d", i), p
		}
		name = strings.TrimSpace(name)
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		out = append(out, model.LayerSource{Name: name, URL: u})
	}
	return out
}
