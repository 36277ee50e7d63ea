// Command shmap-inspect creates a region (or attaches to an existing one
// via inherited descriptors) and prints its header sizing fields and
// usage statistics. It is a developer-facing inspection aid, not part of
// the library's surface.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"

	"shmap"
)

func main() {
	memorySize := flag.Uint64("size", 1<<20, "total region size in bytes")
	maxBuckets := flag.Uint64("max-buckets", 0, "bucket count (0 derives from --size)")
	maxFreeBlocks := flag.Uint64("max-free-blocks", 0, "freelist capacity (0 derives from --max-buckets)")
	regionFD := flag.Int("region-fd", -1, "attach to an existing region via this inherited descriptor instead of creating one")
	lockFD := flag.Int("lock-fd", -1, "lock descriptor paired with --region-fd")
	seed := flag.StringToString("seed", nil, "key=value pairs to insert before reporting stats")
	flag.Parse()

	var (
		m   *shmap.Map
		err error
	)
	if *regionFD >= 0 {
		m, err = shmap.Attach(*regionFD, *lockFD)
		if err != nil {
			fmt.Fprintln(os.Stderr, errors.Wrap(err, "shmap-inspect: attach"))
			os.Exit(1)
		}
		defer m.Detach()
	} else {
		m, err = shmap.Init(*memorySize, *maxBuckets, *maxFreeBlocks)
		if err != nil {
			fmt.Fprintln(os.Stderr, errors.Wrap(err, "shmap-inspect: init"))
			os.Exit(1)
		}
		defer m.Destroy()
	}

	for k, v := range *seed {
		if err := m.Insert([]byte(k), []byte(v)); err != nil {
			fmt.Fprintf(os.Stderr, "shmap-inspect: insert %q: %v\n", k, err)
		}
	}

	s, err := m.Stat()
	if err != nil {
		fmt.Fprintln(os.Stderr, errors.Wrap(err, "shmap-inspect: stat"))
		os.Exit(1)
	}

	fmt.Printf("memory_size:        %d\n", s.MemorySize)
	fmt.Printf("header_size:        %d\n", s.HeaderSize)
	fmt.Printf("max_buckets:        %d\n", s.MaxBuckets)
	fmt.Printf("max_bucket_flags:   %d (%d bytes)\n", s.MaxBucketFlags, s.BucketFlagsSize)
	fmt.Printf("buckets_size:       %d\n", s.BucketsSize)
	fmt.Printf("max_free_blocks:    %d (%d bytes)\n", s.MaxFreeBlocks, s.FreeBlocksSize)
	fmt.Printf("data_size:          %d\n", s.DataSize)
	fmt.Printf("record_header_size: %d\n", s.RecordHeaderSize)
	fmt.Println("---")
	fmt.Printf("used_buckets:       %d\n", s.UsedBuckets)
	fmt.Printf("used_free_blocks:   %d\n", s.UsedFreeBlocks)
	fmt.Printf("used_data_size:     %d\n", s.UsedDataSize)
}
