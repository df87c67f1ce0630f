package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/suitability-cli/internal/rasterize"
)

// Config holds the full application configuration.
type Config struct {
	Workspace        WorkspaceConfig        `yaml:"workspace" mapstructure:"workspace"`
	SpatialReference SpatialReferenceConfig `yaml:"spatial_reference" mapstructure:"spatial_reference"`
	Analysis         AnalysisConfig         `yaml:"analysis" mapstructure:"analysis"`
	Inputs           InputsConfig           `yaml:"inputs" mapstructure:"inputs"`
	Outputs          OutputsConfig          `yaml:"outputs" mapstructure:"outputs"`
	Log              LogConfig              `yaml:"log" mapstructure:"log"`
}

// WorkspaceConfig configures the database holding named layers.
type WorkspaceConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Overwrite   bool   `yaml:"overwrite" mapstructure:"overwrite"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// SpatialReferenceConfig fixes the coordinate system of every output.
type SpatialReferenceConfig struct {
	EPSG int `yaml:"epsg" mapstructure:"epsg"`
}

// AnalysisConfig configures the classification grid and scheduling.
type AnalysisConfig struct {
	CellSize       float64 `yaml:"cell_size" mapstructure:"cell_size"`
	Parallel       bool    `yaml:"parallel" mapstructure:"parallel"`
	Concurrency    int     `yaml:"concurrency" mapstructure:"concurrency"`
	CellAssignment string  `yaml:"cell_assignment" mapstructure:"cell_assignment"`
}

// LayerSource names an input either by workspace layer name or by file
// path. Path wins when both are set.
type LayerSource struct {
	Name     string  `yaml:"name" mapstructure:"name"`
	Path     string  `yaml:"path" mapstructure:"path"`
	Field    string  `yaml:"field" mapstructure:"field"`
	CellSize float64 `yaml:"cell_size" mapstructure:"cell_size"`
	Encoding string  `yaml:"encoding" mapstructure:"encoding"`
}

// Label returns the path or name, for log lines and errors.
func (s LayerSource) Label() string {
	if s.Path != "" {
		return s.Path
	}
	return s.Name
}

// SoilSource is the soil polygon input plus the category mapping.
type SoilSource struct {
	LayerSource      `yaml:",inline" mapstructure:",squash"`
	HighQualityLabel string `yaml:"high_quality_label" mapstructure:"high_quality_label"`
	DerivedField     string `yaml:"derived_field" mapstructure:"derived_field"`
}

// InputsConfig lists the five criterion inputs.
type InputsConfig struct {
	Slope       LayerSource `yaml:"slope" mapstructure:"slope"`
	Groundwater LayerSource `yaml:"groundwater" mapstructure:"groundwater"`
	Soil        SoilSource  `yaml:"soil" mapstructure:"soil"`
	Forest      LayerSource `yaml:"forest" mapstructure:"forest"`
	BuiltUp     LayerSource `yaml:"builtup" mapstructure:"builtup"`
}

// OutputsConfig names the persisted artifacts.
type OutputsConfig struct {
	SlopeBand         string `yaml:"slope_band" mapstructure:"slope_band"`
	GroundwaterRaster string `yaml:"groundwater_raster" mapstructure:"groundwater_raster"`
	GroundwaterFlag   string `yaml:"groundwater_flag" mapstructure:"groundwater_flag"`
	SoilRaster        string `yaml:"soil_raster" mapstructure:"soil_raster"`
	SoilFlag          string `yaml:"soil_flag" mapstructure:"soil_flag"`
	ForestRaster      string `yaml:"forest_raster" mapstructure:"forest_raster"`
	ForestFlag        string `yaml:"forest_flag" mapstructure:"forest_flag"`
	BuiltUpRaster     string `yaml:"builtup_raster" mapstructure:"builtup_raster"`
	BuiltUpFlag       string `yaml:"builtup_flag" mapstructure:"builtup_flag"`
	Final             string `yaml:"final" mapstructure:"final"`
	ExportDir         string `yaml:"export_dir" mapstructure:"export_dir"`
	ReportPath        string `yaml:"report_path" mapstructure:"report_path"`
}

// Artifacts returns every output raster name in pipeline order.
func (o OutputsConfig) Artifacts() []string {
	return []string{
		o.SlopeBand,
		o.GroundwaterRaster, o.GroundwaterFlag,
		o.SoilRaster, o.SoilFlag,
		o.ForestRaster, o.ForestFlag,
		o.BuiltUpRaster, o.BuiltUpFlag,
		o.Final,
	}
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SUITABILITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("workspace.driver", "sqlite")
	v.SetDefault("workspace.database_url", "suitability.db")
	v.SetDefault("workspace.overwrite", true)
	v.SetDefault("workspace.max_conns", 10)
	v.SetDefault("workspace.min_conns", 2)
	v.SetDefault("spatial_reference.epsg", 2180)
	v.SetDefault("analysis.cell_size", 30)
	v.SetDefault("analysis.parallel", true)
	v.SetDefault("analysis.concurrency", 5)
	v.SetDefault("analysis.cell_assignment", string(rasterize.MaximumArea))

	v.SetDefault("inputs.slope.name", "Nachylenie2")
	v.SetDefault("inputs.slope.path", "")
	v.SetDefault("inputs.groundwater.name", "PPW_miendz")
	v.SetDefault("inputs.groundwater.path", "")
	v.SetDefault("inputs.groundwater.field", "numer")
	v.SetDefault("inputs.groundwater.cell_size", 5)
	v.SetDefault("inputs.groundwater.encoding", "")
	v.SetDefault("inputs.soil.name", "gleby_klasyfikacja_zagregowane")
	v.SetDefault("inputs.soil.path", "")
	v.SetDefault("inputs.soil.field", "klasa")
	v.SetDefault("inputs.soil.cell_size", 30)
	v.SetDefault("inputs.soil.encoding", "")
	v.SetDefault("inputs.soil.high_quality_label", "Gleby Wysokiej Jakosci")
	v.SetDefault("inputs.soil.derived_field", "klasa_num")
	v.SetDefault("inputs.forest.name", "PTLZ")
	v.SetDefault("inputs.forest.path", "")
	v.SetDefault("inputs.forest.field", "OBJECTID")
	v.SetDefault("inputs.forest.cell_size", 30)
	v.SetDefault("inputs.forest.encoding", "")
	v.SetDefault("inputs.builtup.name", "PTZB")
	v.SetDefault("inputs.builtup.path", "")
	v.SetDefault("inputs.builtup.field", "OBJECTID")
	v.SetDefault("inputs.builtup.cell_size", 30)
	v.SetDefault("inputs.builtup.encoding", "")

	v.SetDefault("outputs.slope_band", "reclass_slope")
	v.SetDefault("outputs.groundwater_raster", "raster_groundwater")
	v.SetDefault("outputs.groundwater_flag", "flag_groundwater")
	v.SetDefault("outputs.soil_raster", "raster_soil")
	v.SetDefault("outputs.soil_flag", "flag_soil")
	v.SetDefault("outputs.forest_raster", "raster_forest")
	v.SetDefault("outputs.forest_flag", "flag_forest")
	v.SetDefault("outputs.builtup_raster", "raster_builtup")
	v.SetDefault("outputs.builtup_flag", "flag_builtup")
	v.SetDefault("outputs.final", "final_classification")
	v.SetDefault("outputs.export_dir", "")
	v.SetDefault("outputs.report_path", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks the configuration for values the pipeline cannot run
// with.
func (c *Config) Validate() error {
	switch c.Workspace.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unknown workspace driver %q", c.Workspace.Driver)
	}
	if c.Workspace.DatabaseURL == "" {
		return eris.New("config: workspace.database_url is required")
	}
	if c.SpatialReference.EPSG <= 0 {
		return eris.Errorf("config: invalid spatial_reference.epsg %d", c.SpatialReference.EPSG)
	}
	if c.Analysis.CellSize <= 0 {
		return eris.Errorf("config: analysis.cell_size must be positive, got %v", c.Analysis.CellSize)
	}
	if c.Analysis.Concurrency < 1 {
		return eris.Errorf("config: analysis.concurrency must be at least 1, got %d", c.Analysis.Concurrency)
	}
	if _, err := rasterize.ParseCellAssignment(c.Analysis.CellAssignment); err != nil {
		return eris.Wrap(err, "config: analysis.cell_assignment")
	}

	if c.Inputs.Slope.Label() == "" {
		return eris.New("config: inputs.slope needs a name or path")
	}
	for key, src := range map[string]LayerSource{
		"groundwater": c.Inputs.Groundwater,
		"soil":        c.Inputs.Soil.LayerSource,
		"forest":      c.Inputs.Forest,
		"builtup":     c.Inputs.BuiltUp,
	} {
		if src.Label() == "" {
			return eris.Errorf("config: inputs.%s needs a name or path", key)
		}
		if src.Field == "" {
			return eris.Errorf("config: inputs.%s.field is required", key)
		}
		if src.CellSize <= 0 {
			return eris.Errorf("config: inputs.%s.cell_size must be positive, got %v", key, src.CellSize)
		}
	}
	if c.Inputs.Soil.DerivedField == "" {
		return eris.New("config: inputs.soil.derived_field is required")
	}

	seen := map[string]bool{}
	for _, name := range c.Outputs.Artifacts() {
		if name == "" {
			return eris.New("config: every outputs artifact needs a name")
		}
		if seen[name] {
			return eris.Errorf("config: duplicate output name %q", name)
		}
		seen[name] = true
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
