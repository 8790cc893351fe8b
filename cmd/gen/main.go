package main

import (
	"flag"

	"github.com/mayan-finance/driver-sdk-sub000/config"
	"github.com/mayan-finance/driver-sdk-sub000/internal/dal"
)

// 生成 gorm-gen 查询代码，开发期离线执行
func main() {
	var configFile, outPath string
	flag.StringVar(&configFile, "config", "cfg.toml", "config file path")
	flag.StringVar(&outPath, "out", "./internal/dal/gen", "generated code output path")
	flag.Parse()

	if err := config.Load(configFile); err != nil {
		panic(err)
	}

	dal.InitDB(config.Get().MySQL)
	defer dal.CloseDB()

	dal.GenExecute(outPath, dal.DB())
}
