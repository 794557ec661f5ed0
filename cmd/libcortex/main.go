package main

/*
#include <stdlib.h>

// topic: event name
// payload: JSON data
typedef void (*EventCallback)(char* topic, char* payload);

// Go cannot call a C function pointer directly.
static void invokeCallback(EventCallback cb, char* topic, char* payload) {
    if (cb) {
        cb(topic, payload);
    }
}
*/
import "C"
import (
	"sync"
	"unsafe"

	"github.com/dyike/CortexConsensus/pkg/bridge"
)

var (
	callbackMu     sync.RWMutex
	globalCallback C.EventCallback
)

func init() {
	bridge.SetNotifyImpl(func(topic, payload string) {
		callbackMu.RLock()
		cb := globalCallback
		callbackMu.RUnlock()
		if cb == nil {
			return
		}
		cTopic := C.CString(topic)
		cPayload := C.CString(payload)
		defer C.free(unsafe.Pointer(cTopic))
		defer C.free(unsafe.Pointer(cPayload))

		C.invokeCallback(cb, cTopic, cPayload)
	})
}

//export InitSDK
func InitSDK(workDir *C.char, configJson *C.char) *C.char {
	if err := initService(C.GoString(workDir), C.GoString(configJson)); err != nil {
		return C.CString("Error: " + err.Error())
	}
	return C.CString("Success")
}

//export RegisterCallback
func RegisterCallback(cb C.EventCallback) {
	callbackMu.Lock()
	globalCallback = cb
	callbackMu.Unlock()
}

//export UpdateConfig
func UpdateConfig(jsonStr *C.char) *C.char {
	if err := updateConfig(C.GoString(jsonStr)); err != nil {
		return C.CString("Error: " + err.Error())
	}
	return C.CString("Success")
}

//export Call
func Call(method *C.char, params *C.char) *C.char {
	return C.CString(Dispatch(C.GoString(method), C.GoString(params)))
}

//export Shutdown
func Shutdown() {
	shutdownService()
}

//export FreeString
func FreeString(str *C.char) {
	C.free(unsafe.Pointer(str))
}

func main() {}
