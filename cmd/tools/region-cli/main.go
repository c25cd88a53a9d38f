package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/annel0/worldstore/internal/config"
	"github.com/annel0/worldstore/internal/logging"
	"github.com/annel0/worldstore/internal/regions"
	"github.com/annel0/worldstore/internal/storage"
	"github.com/annel0/worldstore/internal/vec"
)

func main() {
	var (
		command    = flag.String("cmd", "info", "Command: info, list, upgrade")
		file       = flag.String("file", "", "Region file for info")
		layerName  = flag.String("layer", "voxels", "Layer: voxels, lights, inventories, all (upgrade, list)")
		worldDir   = flag.String("dir", "", "World directory (overrides config)")
		configPath = flag.String("config", "", "YAML config (default WORLD_CONFIG)")
		verify     = flag.Bool("verify", false, "Decompress every chunk (info)")
		dump       = flag.Bool("dump", false, "Hex dump of the file header (info)")
	)
	flag.Parse()

	switch *command {
	case "info":
		if *file == "" {
			log.Fatalf("❌ -file is required for info")
		}
		layer, err := regions.ParseLayer(*layerName)
		if err != nil {
			log.Fatalf("❌ %v", err)
		}
		opts, err := loadOptions(*configPath, *worldDir)
		if err != nil {
			log.Fatalf("❌ Failed to load config: %v", err)
		}
		if err := showInfo(*file, layer, opts.Regions.Layers[layer], *verify, *dump); err != nil {
			log.Fatalf("❌ Info failed: %v", err)
		}

	case "list", "upgrade":
		layers, err := parseLayers(*layerName)
		if err != nil {
			log.Fatalf("❌ %v", err)
		}
		world, err := openRegions(*configPath, *worldDir)
		if err != nil {
			log.Fatalf("❌ Failed to open world: %v", err)
		}
		if err := runWorldCommand(world, *command, layers); err != nil {
			log.Fatalf("❌ %s failed: %v", *command, err)
		}

	default:
		fmt.Printf("❌ Unknown command: %s\n", *command)
		fmt.Println("Available commands: info, list, upgrade")
		os.Exit(1)
	}
}

// loadOptions параметры хранилища из конфигурации; dir перекрывает каталог мира
func loadOptions(configPath, dir string) (storage.Options, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return storage.Options{}, err
	}
	if dir != "" {
		cfg.Storage.Dir = dir
	}
	return storage.OptionsFromConfig(cfg), nil
}

// openRegions открывает регионы мира с параметрами слоёв из конфигурации
func openRegions(configPath, dir string) (*regions.Regions, error) {
	opts, err := loadOptions(configPath, dir)
	if err != nil {
		return nil, err
	}
	opts.Regions.Logger = logging.GetComponentLogger("region-cli")
	if _, err := os.Stat(opts.Dir); err != nil {
		return nil, err
	}
	return regions.New(opts.Dir, opts.Regions)
}

// showInfo выводит заголовок и слоты регион-файла
func showInfo(path string, layer regions.LayerID, opts regions.LayerOptions, verify, dump bool) error {
	info, err := regions.InspectRegionFile(path, layer, opts, verify)
	if err != nil {
		return err
	}

	fmt.Printf("📦 %s (%d bytes)\n", info.Path, info.Size)
	fmt.Printf("Version: %d, compression: %s, chunks: %d/%d\n",
		info.Version, info.Method, len(info.Chunks), regions.RegionChunksCount)
	if dump {
		fmt.Print(logging.HexDump(info.Header))
	}

	// координаты чанков известны, если имя файла стандартное
	origin, named := regionOrigin(path)

	var compressed, source int64
	broken := 0
	for _, chunk := range info.Chunks {
		compressed += int64(chunk.CompressedSize)
		source += int64(chunk.SourceSize)

		position := chunk.Local.String()
		if named {
			position = vec.FromRegion(origin, chunk.Local).String()
		}

		status := ""
		if chunk.Err != nil {
			status = "  ❌ " + chunk.Err.Error()
			broken++
		}
		fmt.Printf("  [%4d] chunk %-12s %8d -> %8d bytes%s\n",
			chunk.Index, position, chunk.CompressedSize, chunk.SourceSize, status)
	}

	if source > 0 {
		fmt.Printf("\n📊 Ratio: %.3f (%d / %d bytes)\n", float64(compressed)/float64(source), compressed, source)
	}
	if verify {
		fmt.Printf("Broken chunks: %d\n", broken)
	}
	return nil
}

// runWorldCommand выполняет list или upgrade и закрывает мир в любом случае
func runWorldCommand(world *regions.Regions, command string, layers []regions.LayerID) (err error) {
	defer func() {
		err = errors.Join(err, world.Close())
	}()

	switch command {
	case "list":
		return listRegions(world, layers)
	case "upgrade":
		return upgradeRegions(world, layers)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// listRegions выводит регион-файлы слоёв
func listRegions(world *regions.Regions, layers []regions.LayerID) error {
	for _, layer := range layers {
		coords, err := world.RegionFiles(layer)
		if err != nil {
			return err
		}

		fmt.Printf("📋 %s: %d regions\n", layer, len(coords))
		for _, c := range coords {
			fmt.Printf("  %s\n", filepath.Join(world.Dir(), layer.Folder(), regions.RegionFilename(c.X, c.Y)))
		}
	}
	return nil
}

// upgradeRegions перезаписывает регион-файлы в актуальной версии формата
func upgradeRegions(world *regions.Regions, layers []regions.LayerID) error {
	for _, layer := range layers {
		start := time.Now()
		fmt.Printf("🔄 Upgrading %s...\n", layer)
		if err := world.UpgradeRegions(context.Background(), layer); err != nil {
			return fmt.Errorf("layer %s: %w", layer, err)
		}
		fmt.Printf("✅ %s done in %v\n", layer, time.Since(start).Round(time.Millisecond))
	}
	return nil
}

// parseLayers разбирает список слоёв через запятую; all - все слои
func parseLayers(s string) ([]regions.LayerID, error) {
	if s == "all" {
		return []regions.LayerID{regions.LayerVoxels, regions.LayerLights, regions.LayerInventories}, nil
	}

	var layers []regions.LayerID
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			layer, err := regions.ParseLayer(trimmed)
			if err != nil {
				return nil, err
			}
			layers = append(layers, layer)
		}
	}
	return layers, nil
}

// regionOrigin координаты региона из имени файла
func regionOrigin(path string) (vec.Vec2, bool) {
	x, z, ok := regions.ParseRegionFilename(filepath.Base(path))
	return vec.Vec2{X: x, Y: z}, ok
}
