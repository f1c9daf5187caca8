package main

import (
	"context"
	"os"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/devscout/streamengine/internal/adapters/sink"
	"github.com/devscout/streamengine/internal/adapters/source"
	"github.com/devscout/streamengine/internal/config"
	"github.com/devscout/streamengine/pkg/logger"
)

func TestBootstrap(t *testing.T) {
	_ = logger.Init()

	convey.Convey("Given the application bootstrap", t, func() {
		convey.Convey("When loading configuration from the environment", func() {
			_ = os.Setenv("DEVSCOUT_ADDR", ":8080")
			_ = os.Setenv("DEVSCOUT_PARTITIONS", "2")
			_ = os.Setenv("DEVSCOUT_SINK_KIND", "memory")
			defer func() {
				_ = os.Unsetenv("DEVSCOUT_ADDR")
				_ = os.Unsetenv("DEVSCOUT_PARTITIONS")
				_ = os.Unsetenv("DEVSCOUT_SINK_KIND")
			}()

			ctx := context.Background()
			cfg, err := config.Load(ctx)

			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
			convey.So(cfg.Partitions, convey.ShouldEqual, 2)

			convey.Convey("Then the source should build from it", func() {
				src, err := buildSource(cfg)
				convey.So(err, convey.ShouldBeNil)
				convey.So(src, convey.ShouldNotBeNil)
				convey.So(src.Partitions(), convey.ShouldHaveLength, 2)
				convey.So(src.Close(), convey.ShouldBeNil)
			})

			convey.Convey("And the sink should build from it", func() {
				snk, err := buildSink(ctx, cfg)
				convey.So(err, convey.ShouldBeNil)
				convey.So(snk, convey.ShouldHaveSameTypeAs, &sink.MemorySink{})
			})

			convey.Convey("And the dead letter store should default to memory", func() {
				cfg.DeadLetterPath = ""
				dlq, err := buildDeadLetter(cfg)
				convey.So(err, convey.ShouldBeNil)
				convey.So(dlq, convey.ShouldHaveSameTypeAs, &sink.MemoryDeadLetter{})
			})
		})

		convey.Convey("When a stdout sink is configured", func() {
			cfg := config.New()
			cfg.SinkKind = config.SinkStdout

			snk, err := buildSink(context.Background(), cfg)

			convey.So(err, convey.ShouldBeNil)
			convey.So(snk, convey.ShouldHaveSameTypeAs, &sink.StdoutSink{})
		})

		convey.Convey("When a file dead letter path is configured", func() {
			cfg := config.New()
			cfg.DeadLetterPath = t.TempDir() + "/dead.jsonl"

			dlq, err := buildDeadLetter(cfg)

			convey.So(err, convey.ShouldBeNil)
			convey.So(dlq, convey.ShouldHaveSameTypeAs, &sink.FileDeadLetter{})
		})

		convey.Convey("When the memory source is built", func() {
			cfg := config.New()
			cfg.SourceKind = config.SourceMemory
			cfg.Partitions = 3

			src, err := buildSource(cfg)

			convey.So(err, convey.ShouldBeNil)
			convey.So(src, convey.ShouldHaveSameTypeAs, &source.MemorySource{})
			convey.So(src.Partitions(), convey.ShouldResemble, []int{0, 1, 2})
		})
	})
}
