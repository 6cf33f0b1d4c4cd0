/*
Proxvoice is a proximity voice chat server. It routes positional
audio between game participants over a reliable UDP protocol, with
distance attenuation, stereo panning and environmental effects.
*/
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/proxvoice/proxvoice"
)

func main() {
	confPath := flag.String("config", "config/proxvoice.yml", "path to the configuration file")
	flag.Parse()

	cfg, err := proxvoice.LoadConfig(*confPath)
	if err != nil {
		log.Fatal(err)
	}

	db, err := proxvoice.OpenDB(cfg.Database)
	if err != nil {
		log.Fatal(err)
	}

	srv := proxvoice.NewServer(cfg, db)
	if err := srv.LoadChannels(); err != nil {
		log.Fatal(err)
	}

	if err := srv.Start(); err != nil {
		log.Fatal(err)
	}

	var mccomm *proxvoice.MCComm
	if cfg.MCCommListen != "" {
		mccomm = proxvoice.NewMCComm(srv, cfg.MCCommToken)
		if err := mccomm.Listen(cfg.MCCommListen); err != nil {
			log.Fatal(err)
		}
	}

	var mcwss *proxvoice.MCWSS
	if cfg.MCWSSListen != "" {
		mcwss = proxvoice.NewMCWSS(srv)
		if err := mcwss.Listen(cfg.MCWSSListen); err != nil {
			log.Fatal(err)
		}
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-signalChan:
		log.Print("Caught SIGINT or SIGTERM, shutting down")
	case err := <-srv.Errs():
		log.Print(err)
	}

	if mcwss != nil {
		mcwss.Close()
	}
	if mccomm != nil {
		mccomm.Close()
	}

	if err := srv.SaveChannels(); err != nil {
		log.Print(err)
	}
	srv.Stop()
	db.Close()
}
