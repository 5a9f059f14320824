// Copyright 2022 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build !linux

package ioprio

import (
	"github.com/pkg/errors"
)

var errUnsupported = errors.New("I/O priorities are only supported on linux")

// Set is not supported on this platform.
func Set(uint32, Priority) error {
	return errUnsupported
}

// Get is not supported on this platform.
func Get(uint32) (Priority, error) {
	return Priority{}, errUnsupported
}
