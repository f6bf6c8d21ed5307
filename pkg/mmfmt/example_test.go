// Copyright 2024-2026 Aiku AI

package mmfmt_test

import (
	"fmt"

	"github.com/aiku/roombridge/pkg/mmfmt"
)

func ExamplePlain() {
	fmt.Println(mmfmt.Plain("**hello** [world](https://example.com)"))
	// Output: hello world (https://example.com)
}
