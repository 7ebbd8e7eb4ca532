package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	"github.com/annel0/pagedvolume/internal/logging"
	"github.com/annel0/pagedvolume/internal/pager"
	"github.com/annel0/pagedvolume/internal/voxel"
	"github.com/shirou/gopsutil/v3/process"
)

func main() {
	var (
		budgetMB = flag.Uint64("budget", 16, "Бюджет памяти объема, МБ")
		side     = flag.Uint("side", 32, "Длина стороны чанка (степень двойки)")
		extent   = flag.Int("extent", 256, "Размер обходимого куба в вокселях")
		seed     = flag.Int64("seed", 1, "Сид генератора")
		quiet    = flag.Bool("quiet", false, "Не выводить предупреждения объема")
	)
	flag.Parse()

	if *quiet {
		logging.DefaultLogger().SetLevels(logging.ERROR, logging.ERROR)
	}

	gen := pager.NewNoisePager(pager.NoiseConfig{Seed: *seed, SeaLevel: int32(*extent / 4), Amplitude: float64(*extent / 8)})
	volume, err := voxel.NewVolume[voxel.Voxel](gen, *budgetMB<<20, uint16(*side))
	if err != nil {
		log.Fatalf("❌ Ошибка создания объема: %v", err)
	}

	fmt.Printf("Объем: бюджет %d МБ, чанк %d^3 (%d байт), лимит %d чанков\n",
		*budgetMB, *side, volume.ChunkSizeInBytes(), volume.ChunkCountLimit())

	n := int32(*extent)

	// Прямое чтение через GetVoxel
	start := time.Now()
	directSolid := 0
	for z := int32(0); z < n; z++ {
		for y := int32(0); y < n; y++ {
			for x := int32(0); x < n; x++ {
				if !volume.GetVoxel(x, y, z).IsAir() {
					directSolid++
				}
			}
		}
	}
	direct := time.Since(start)

	// Тот же обход сэмплером: шаг по X без поиска чанка
	volume.FlushAll()
	sampler := voxel.NewSampler(volume)
	start = time.Now()
	samplerSolid := 0
	for z := int32(0); z < n; z++ {
		for y := int32(0); y < n; y++ {
			sampler.SetPosition(0, y, z)
			for x := int32(0); x < n; x++ {
				if !sampler.Voxel().IsAir() {
					samplerSolid++
				}
				sampler.MovePositiveX()
			}
		}
	}
	sampled := time.Since(start)

	total := int64(n) * int64(n) * int64(n)
	fmt.Printf("GetVoxel: %v (%.1f нс/воксель), непустых %d\n", direct, float64(direct.Nanoseconds())/float64(total), directSolid)
	fmt.Printf("Sampler:  %v (%.1f нс/воксель), непустых %d\n", sampled, float64(sampled.Nanoseconds())/float64(total), samplerSolid)
	if directSolid != samplerSolid {
		fmt.Println("⚠️  Результаты обходов не совпадают")
		os.Exit(1)
	}

	printMemory(volume)
}

func printMemory(volume *voxel.Volume[voxel.Voxel]) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	fmt.Printf("Оценка объема: %.2f МБ в %d чанках\n", float64(volume.MemoryFootprint())/1024/1024, volume.ResidentChunks())
	fmt.Printf("Heap: %.2f МБ\n", float64(m.HeapAlloc)/1024/1024)

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return
	}
	if mem, err := proc.MemoryInfo(); err == nil {
		fmt.Printf("RSS процесса: %.2f МБ\n", float64(mem.RSS)/1024/1024)
	}
}
