package main

import (
	"fmt"
	"io"
	"log"
	"log/syslog"
	"os"
)

var debug bool

func setLoggerToSyslog() error {
	logWriter, err := syslog.New(syslog.LOG_SYSLOG, "execjail")
	if err != nil {
		return err
	}
	log.SetOutput(logWriter)
	log.SetFlags(log.Lshortfile | log.LstdFlags)
	return nil
}

func setLoggerToFile(path string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	log.SetOutput(f)
	log.SetFlags(log.LstdFlags)
	return nil
}

func printLog(printTo io.Writer, msg string, args ...any) {
	fmt.Fprintf(printTo, msg, args...)
	log.Printf(msg, args...)
}

func logWarn(msg string, args ...any) {
	log.Printf("[warn] "+msg, args...)
}

func logInfo(msg string, args ...any) {
	log.Printf("[info] "+msg, args...)
}

func printLogErr(printTo io.Writer, msg string, args ...any) {
	printLog(printTo, "[error] "+msg, args...)
}

func printLogWarn(printTo io.Writer, msg string, args ...any) {
	printLog(printTo, "[warn] "+msg, args...)
}

func printLogDebug(printTo io.Writer, msg string, args ...any) {
	if debug {
		printLog(printTo, "[debug] "+msg, args...)
	}
}
