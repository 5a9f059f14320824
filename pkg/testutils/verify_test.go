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

package testutils

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

type unexported struct {
	id   int
	name string
}

func TestVerifyDeepEqual(t *testing.T) {
	VerifyDeepEqual(t, "slice", []uint32{1, 2, 3}, []uint32{1, 2, 3})
	VerifyDeepEqual(t, "unexported fields",
		[]unexported{{id: 1, name: "dd"}, {id: 2, name: "tar"}},
		[]unexported{{id: 1, name: "dd"}, {id: 2, name: "tar"}},
		cmp.AllowUnexported(unexported{}))
}

func TestVerifyError(t *testing.T) {
	err := multierror.Append(errors.New("first problem"), errors.New("second problem"))
	VerifyError(t, err, 2, []string{"first", "second"})
	VerifyError(t, nil, 0, nil)
}
