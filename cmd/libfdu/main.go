// Command libfdu builds as a C shared library:
//
//	go build -buildmode=c-shared -o libfdu.so ./cmd/libfdu
//
// Every returned string is allocated with malloc and must be released by
// the caller through free_string.
package main

/*
#include <stdlib.h>
*/
import "C"

import (
	"context"
	"unsafe"

	"github.com/fduhole/fdusdk/fdu"
)

//export hello_world
func hello_world() *C.char {
	return C.CString(fdu.HelloWorld())
}

//export add
func add(a, b C.int) C.int {
	return C.int(fdu.Add(int32(a), int32(b)))
}

// get_url fetches a URL and returns the response body, or NULL when the
// URL is unreachable or the argument is NULL.
//
//export get_url
func get_url(url *C.char) *C.char {
	if url == nil {
		return nil
	}
	body, err := fdu.FetchURL(context.Background(), C.GoString(url))
	if err != nil {
		return nil
	}
	return C.CString(body)
}

//export free_string
func free_string(s *C.char) {
	if s != nil {
		C.free(unsafe.Pointer(s))
	}
}

func main() {}
