// Command batsched-edc builds the decision component as a shared library loaded by the simulator:
//
//	go build -buildmode=c-shared -o libbatsched.so ./cmd/batsched-edc
package main

/*
#include <stdint.h>
#include <stdlib.h>
*/
import "C"

import (
	"unsafe"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/batsched/batsched/internal/common/logging"
	"github.com/batsched/batsched/internal/edc"
)

var (
	component *edc.Component
	// Decisions returned by the last call. The simulator reads them before its next call.
	decisions unsafe.Pointer
)

//export batsim_edc_init
func batsim_edc_init(data *C.uint8_t, size C.uint32_t, flags C.uint32_t) (rv C.uint8_t) {
	defer recoverInto(&rv)
	if component == nil {
		var err error
		if component, err = edc.NewComponent(logrus.StandardLogger(), prometheus.DefaultRegisterer); err != nil {
			return fail(err)
		}
	}
	if err := component.Init(C.GoBytes(unsafe.Pointer(data), C.int(size)), uint32(flags)); err != nil {
		return fail(err)
	}
	return 0
}

//export batsim_edc_deinit
func batsim_edc_deinit() (rv C.uint8_t) {
	defer recoverInto(&rv)
	freeDecisions()
	if component == nil {
		return 0
	}
	if err := component.Deinit(); err != nil {
		return fail(err)
	}
	return 0
}

//export batsim_edc_take_decisions
func batsim_edc_take_decisions(
	whatHappened *C.uint8_t,
	whatHappenedSize C.uint32_t,
	decisionsOut **C.uint8_t,
	decisionsSize *C.uint32_t,
) (rv C.uint8_t) {
	defer recoverInto(&rv)
	if component == nil {
		return fail(errors.New("batsim_edc_take_decisions called before batsim_edc_init"))
	}
	out, err := component.TakeDecisions(C.GoBytes(unsafe.Pointer(whatHappened), C.int(whatHappenedSize)))
	if err != nil {
		return fail(err)
	}
	freeDecisions()
	decisions = C.CBytes(out)
	*decisionsOut = (*C.uint8_t)(decisions)
	*decisionsSize = C.uint32_t(len(out))
	return 0
}

func freeDecisions() {
	if decisions != nil {
		C.free(decisions)
		decisions = nil
	}
}

func fail(err error) C.uint8_t {
	logging.WithStacktrace(logrus.NewEntry(logrus.StandardLogger()), err).Error("decision component failed")
	return 1
}

func recoverInto(rv *C.uint8_t) {
	if r := recover(); r != nil {
		err, ok := r.(error)
		if !ok {
			err = errors.Errorf("%v", r)
		}
		*rv = fail(errors.WithStack(err))
	}
}

func main() {}
